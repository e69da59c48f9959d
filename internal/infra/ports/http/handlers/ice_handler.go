package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/config"
)

const turnCredentialTTL = time.Hour

type IceHandler struct {
	cfg *config.Config

	now func() time.Time
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg, now: time.Now}
}

// IceServers выдаёт ICE сервера для клиента. При заданном COTURN_SECRET
// креды TURN временные (TURN REST API), иначе отдаются статические
func (h *IceHandler) IceServers(c echo.Context) error {
	servers := make([]webrtc.ICEServer, 0, 2)

	if len(h.cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: h.cfg.STUNServers})
	}

	if !h.cfg.CoturnServer.Enabled() {
		return c.JSON(http.StatusOK, servers)
	}

	turn := webrtc.ICEServer{
		URLs: []string{
			h.cfg.TurnUDPServer.URLs[0],
			h.cfg.TurnTCPServer.URLs[0],
		},
		Username:   h.cfg.CoturnServer.Username,
		Credential: h.cfg.CoturnServer.Password,
	}

	if secret := h.cfg.CoturnServer.Secret; secret != "" {
		turn.Username, turn.Credential = turnCredentials(secret, h.now().Add(turnCredentialTTL))
	}

	return c.JSON(http.StatusOK, append(servers, turn))
}

// turnCredentials - username это unix время истечения, пароль HMAC-SHA1 от него
func turnCredentials(secret string, expiresAt time.Time) (string, string) {
	username := strconv.FormatInt(expiresAt.Unix(), 10)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))

	return username, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
