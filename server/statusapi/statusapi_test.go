package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/perceptcam/perceptd/pkg/nn"
	"github.com/perceptcam/perceptd/server/processor"
)

func TestGetStatus(t *testing.T) {
	factory := func(width, height int) (nn.Session, error) {
		t.Fatal("session must not be created by the status API")
		return nil, nil
	}
	proc := processor.NewProcessor(logs.NewTestingLog(t), nil, nn.Detect{}, factory, false)
	s := NewServer(logs.NewTestingLog(t), "127.0.0.1:0", proc)

	w := httptest.NewRecorder()
	s.getStatus(w, httptest.NewRequest("GET", "/api/status", nil), httprouter.Params{})
	require.Equal(t, http.StatusOK, w.Code)

	status := Status{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.False(t, status.State.Initialized)
	require.Equal(t, "detect", status.State.Mode)
	require.Equal(t, int64(0), status.Stats.Frames)
}
