package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"mediaconv/pkg/config"
	"mediaconv/pkg/ffmpeg"
	"mediaconv/pkg/httpapi"
	"mediaconv/pkg/middleware"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.Error())
	RegisterRoutes(&httpapi.Router{
		Engine: engine,
		V1:     engine.Group("/v1"),
		Admin:  engine.Group("/admin"),
	}, NewHandler(f.svc))
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, errorBody) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var eb errorBody
	if rec.Code >= 400 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
	}
	return rec, eb
}

func TestSelectFormatHandlerWithoutSession(t *testing.T) {
	f := newFixture(t)
	rec, body := doJSON(t, newTestRouter(f), http.MethodPost, "/v1/accounts/100/conversions", `{"format":"mp3"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", body.Error.Code)
	require.Equal(t, "no pending upload, send a file first", body.Error.Message)
}

func TestSelectFormatHandlerUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	f.upload(t, 100, "audio")

	rec, body := doJSON(t, newTestRouter(f), http.MethodPost, "/v1/accounts/100/conversions", `{"format":"720p"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "format not available for this file", body.Error.Message)
	require.Len(t, body.Error.Details, 1)
	require.Equal(t, "reason", body.Error.Details[0].Field)
	require.Equal(t, string(ReasonUnsupportedFormat), body.Error.Details[0].Message)
}

func TestSelectFormatHandlerInsufficientCredits(t *testing.T) {
	f := newFixture(t, func(c *config.Conversion) { c.InitialCredits = 0 })
	f.upload(t, 100, "audio")

	rec, body := doJSON(t, newTestRouter(f), http.MethodPost, "/v1/accounts/100/conversions", `{"format":"mp3"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "not enough credits", body.Error.Message)
}

func TestSelectFormatHandlerTranscodeFailure(t *testing.T) {
	f := newFixture(t)
	f.transcoder.fn = func(context.Context, string, string, ffmpeg.Profile) error {
		return errors.New("invalid data found when processing input")
	}
	f.upload(t, 100, "video")

	rec, body := doJSON(t, newTestRouter(f), http.MethodPost, "/v1/accounts/100/conversions", `{"format":"mp3"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "bad_gateway", body.Error.Code)
	require.Contains(t, body.Error.Message, "try again later")
	require.NotContains(t, rec.Body.String(), "invalid data found")
}

func TestSelectFormatHandlerRequiresFormat(t *testing.T) {
	f := newFixture(t)
	rec, _ := doJSON(t, newTestRouter(f), http.MethodPost, "/v1/accounts/100/conversions", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectFormatHandlerDelivers(t *testing.T) {
	f := newFixture(t)
	f.upload(t, 100, "audio")

	rec, _ := doJSON(t, newTestRouter(f), http.MethodPost, "/v1/accounts/100/conversions", `{"format":"mp3"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, StateDelivered, out.State)
}

func TestCancelSessionHandler(t *testing.T) {
	f := newFixture(t)
	f.upload(t, 100, "audio")
	engine := newTestRouter(f)

	rec, _ := doJSON(t, engine, http.MethodDelete, "/v1/accounts/100/sessions", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, engine, http.MethodDelete, "/v1/accounts/100/sessions", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormatsHandlerUnknownKind(t *testing.T) {
	f := newFixture(t)
	rec, body := doJSON(t, newTestRouter(f), http.MethodGet, "/v1/formats/image", "")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "only video and audio files are supported", body.Error.Message)
}
