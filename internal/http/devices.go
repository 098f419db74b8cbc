package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/database/devices"
	"github.com/koshelf/koshelf/internal/database/syncs"
)

// DevicesController lists and manages a user's registered reader devices.
type DevicesController struct {
	devices *devices.Repository
	syncs   *syncs.Repository
}

func NewDevicesController(deviceRepo *devices.Repository, syncRepo *syncs.Repository) *DevicesController {
	return &DevicesController{devices: deviceRepo, syncs: syncRepo}
}

// List handles GET /api/devices.
func (d *DevicesController) List(c *gin.Context) {
	user := auth.CurrentUser(c)

	list, err := d.devices.ListForUser(user.ID)
	if err != nil {
		respondInternalError(c, err, "list devices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": list, "count": len(list)})
}

type registerDeviceBody struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name" binding:"required"`
}

// Register handles POST /api/devices. Devices normally appear implicitly on
// first sync; explicit registration exists for clients that want a stable
// device_id before syncing.
func (d *DevicesController) Register(c *gin.Context) {
	user := auth.CurrentUser(c)

	var body registerDeviceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "device_name is required")
		return
	}

	device, err := d.devices.GetOrCreate(user.ID, body.DeviceID, body.DeviceName)
	if err != nil {
		respondInternalError(c, err, "register device")
		return
	}
	c.JSON(http.StatusCreated, device)
}

// deviceStatus is one row of the sync-status overview.
type deviceStatus struct {
	ID             uint   `json:"id"`
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	SyncCount      int64  `json:"sync_count"`
	Documents      int64  `json:"documents"`
	LastSyncAt     any    `json:"last_sync_at"`
	RecentlyActive bool   `json:"recently_active"`
}

// SyncStatus handles GET /api/syncs/devices/status.
func (d *DevicesController) SyncStatus(c *gin.Context) {
	user := auth.CurrentUser(c)

	list, err := d.devices.ListForUser(user.ID)
	if err != nil {
		respondInternalError(c, err, "list devices")
		return
	}

	statuses := make([]deviceStatus, 0, len(list))
	for _, device := range list {
		docs, err := d.syncs.CountForDevice(user.ID, device.DeviceName)
		if err != nil {
			respondInternalError(c, err, "count device documents")
			return
		}
		statuses = append(statuses, deviceStatus{
			ID:             device.ID,
			DeviceID:       device.DeviceID,
			DeviceName:     device.DeviceName,
			SyncCount:      device.SyncCount,
			Documents:      docs,
			LastSyncAt:     device.LastSyncAt,
			RecentlyActive: device.RecentlyActive(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": statuses})
}

// Delete handles DELETE /api/devices/:id.
func (d *DevicesController) Delete(c *gin.Context) {
	user := auth.CurrentUser(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	err := d.devices.Delete(user.ID, id)
	if errors.Is(err, devices.ErrNotFound) {
		respondNotFound(c, "device")
		return
	}
	if err != nil {
		respondInternalError(c, err, "delete device")
		return
	}
	respondSuccess(c, "device deleted")
}
