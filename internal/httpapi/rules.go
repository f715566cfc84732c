package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rule-broker/internal/rule"
)

type setActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

func (s *Server) createRule(c *gin.Context) {
	client := currentClient(c)

	var r rule.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule: " + err.Error()})
		return
	}
	r.ClientID = client.ID
	r.LastTriggered = nil

	if err := rule.Validate(&r); err != nil {
		s.writeError(c, err)
		return
	}

	created, err := s.deps.Rules.Add(c.Request.Context(), &r)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("rule created",
		"ruleId", created.ID,
		"clientId", client.ID,
		"conditions", len(created.Conditions),
		"actions", len(created.Actions))
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.deps.Rules.ListByClient(c.Request.Context(), currentClient(c).ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rules == nil {
		rules = []*rule.Rule{}
	}
	c.JSON(http.StatusOK, rules)
}

func (s *Server) getRule(c *gin.Context) {
	r, err := s.deps.Rules.Get(c.Request.Context(), currentClient(c).ID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) deleteRule(c *gin.Context) {
	client := currentClient(c)
	ruleID := c.Param("id")

	removed, err := s.deps.Rules.Remove(c.Request.Context(), client.ID, ruleID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !removed {
		s.writeError(c, rule.ErrRuleNotFound)
		return
	}

	s.logger.Info("rule deleted", "ruleId", ruleID, "clientId", client.ID)
	c.Status(http.StatusNoContent)
}

func (s *Server) setRuleActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isActive is required"})
		return
	}

	r, err := s.deps.Rules.SetActive(c.Request.Context(), currentClient(c).ID, c.Param("id"), *req.IsActive)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
