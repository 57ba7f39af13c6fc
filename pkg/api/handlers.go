package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/olafkfreund/cconnect/pkg/plugin/filesync"
)

// Device handlers.

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records := s.backend.Devices()
	views := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, deviceView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceView(rec))
}

// Pairing handlers.

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, s.backend.RequestPair)
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, s.backend.Unpair)
}

func (s *Server) handleAcceptPairing(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, s.backend.AcceptPairing)
}

func (s *Server) handleRejectPairing(w http.ResponseWriter, r *http.Request) {
	s.deviceAction(w, r, s.backend.RejectPairing)
}

// deviceAction runs a device-scoped backend call with the standard
// error-or-204 reply.
func (s *Server) deviceAction(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	if err := fn(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ping.

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.backend.Ping(chi.URLParam(r, "id"), req.Message); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Share handlers.

func (s *Server) handleShareFile(w http.ResponseWriter, r *http.Request) {
	var req shareFileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		badRequest(w, "path is required")
		return
	}
	tid, err := s.backend.ShareFile(chi.URLParam(r, "id"), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, transferIDResponse{TransferID: tid})
}

func (s *Server) handleShareText(w http.ResponseWriter, r *http.Request) {
	var req shareTextRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		badRequest(w, "text is required")
		return
	}
	if err := s.backend.ShareText(chi.URLParam(r, "id"), req.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShareURL(w http.ResponseWriter, r *http.Request) {
	var req shareURLRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		badRequest(w, "url is required")
		return
	}
	if err := s.backend.ShareURL(chi.URLParam(r, "id"), req.URL); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transfers.

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.CancelTransfer(chi.URLParam(r, "tid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileSync handlers.

func (s *Server) handleListFilesync(w http.ResponseWriter, r *http.Request) {
	folders, err := s.backend.FilesyncFolders(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if folders == nil {
		folders = []*filesync.SyncFolder{}
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleConfigureFilesync(w http.ResponseWriter, r *http.Request) {
	var folder filesync.SyncFolder
	if !decodeJSONBody(w, r, &folder) {
		return
	}
	if err := s.backend.ConfigureFilesync(chi.URLParam(r, "id"), &folder); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &folder)
}

func (s *Server) handleRemoveFilesync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	folderID := chi.URLParam(r, "folder_id")
	if err := s.backend.RemoveFilesyncFolder(id, folderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Device settings.

func (s *Server) handleSetNickname(w http.ResponseWriter, r *http.Request) {
	var req nicknameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.backend.SetNickname(chi.URLParam(r, "id"), req.Nickname); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPluginState(w http.ResponseWriter, r *http.Request) {
	var req pluginStateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	if err := s.backend.SetPluginEnabled(id, name, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearPluginOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	if err := s.backend.ClearPluginOverride(id, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Daemon config handlers.

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Config())
}

func (s *Server) handleSetDeviceName(w http.ResponseWriter, r *http.Request) {
	var req deviceNameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(w, "name is required")
		return
	}
	if err := s.backend.SetDeviceName(req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDeviceType(w http.ResponseWriter, r *http.Request) {
	var req deviceTypeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.backend.SetDeviceType(req.Type); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ResetConfig(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Restart(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Health.

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: s.backend.Config().Version,
	})
}
