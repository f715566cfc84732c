package httpapi

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"rule-broker/internal/reading"
)

func (s *Server) createSensorData(c *gin.Context) {
	client := currentClient(c)

	var payload reading.Reading
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reading payload"})
		return
	}

	stored, err := s.deps.Ingest.Submit(c.Request.Context(), client.ID, payload)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Location", "/api/sensors/"+stored.DeviceID)
	c.JSON(http.StatusCreated, stored)
}

// listSensorData returns every reading of the client, or of all configured
// clients for an admin
func (s *Server) listSensorData(c *gin.Context) {
	client := currentClient(c)
	ctx := c.Request.Context()

	clientIDs := []string{client.ID}
	if client.IsAdmin() {
		clientIDs = clientIDs[:0]
		for _, cc := range s.deps.Clients {
			clientIDs = append(clientIDs, cc.ID)
		}
	}

	out := make([]reading.Reading, 0)
	for _, id := range clientIDs {
		readings, err := s.deps.Readings.All(ctx, id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		out = append(out, readings...)
	}
	if len(clientIDs) > 1 {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Timestamp.After(out[j].Timestamp)
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) getSensorData(c *gin.Context) {
	client := currentClient(c)
	deviceID := c.Param("id")

	latest, ok, err := s.deps.Readings.GetLatest(c.Request.Context(), client.ID, deviceID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "device " + deviceID + " not found"})
		return
	}

	c.JSON(http.StatusOK, latest)
}

func (s *Server) getSensorHistory(c *gin.Context) {
	client := currentClient(c)
	deviceID := c.Param("id")

	history, err := s.deps.Readings.History(c.Request.Context(), client.ID, deviceID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(history) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no history found for device " + deviceID})
		return
	}

	c.JSON(http.StatusOK, history)
}

func (s *Server) deleteSensorData(c *gin.Context) {
	client := currentClient(c)
	deviceID := c.Param("id")

	if err := s.deps.Readings.Delete(c.Request.Context(), client.ID, deviceID); err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Warn("deleted history for device",
		"clientId", client.ID,
		"deviceId", deviceID)
	c.Status(http.StatusNoContent)
}
