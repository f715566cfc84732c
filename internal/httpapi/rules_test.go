package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rule-broker/internal/reading"
	"rule-broker/internal/rule"
)

const fanRule = `{
	"name": "cool down",
	"conditions": [{"deviceId": "temp-1", "operator": "GreaterThan", "thresholdValue": 30}],
	"actions": [{"$type": "set_value", "targetDeviceId": "fan-1", "newValue": true, "valueType": "Boolean"}]
}`

func createRule(t *testing.T, env *testEnv, key, body string) *rule.Rule {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/rules", key, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*rule.Rule](t, w)
}

func TestCreateRule(t *testing.T) {
	env := newTestEnv(t)

	created := createRule(t, env, ownerKey, fanRule)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "owner", created.ClientID)
	assert.Equal(t, rule.All, created.LogicalOperator)
	assert.True(t, created.IsActive)
	assert.Nil(t, created.LastTriggered)
}

func TestCreateRuleRejected(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"empty name", `{"name": " "}`, http.StatusBadRequest, "name"},
		{"bad operator", `{"name": "x", "logicalOperator": "Xor"}`, http.StatusBadRequest, "logicalOperator"},
		{"condition without device", `{"name": "x", "conditions": [{"operator": "Equals", "thresholdValue": "a"}]}`, http.StatusBadRequest, "conditions[0]"},
		{"unknown action", `{"name": "x", "actions": [{"$type": "sms"}]}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/api/rules", ownerKey, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantField != "" {
				body := decode[map[string]string](t, w)
				assert.Equal(t, tt.wantField, body["field"])
			}
		})
	}
}

func TestCreateRuleDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	body := `{"id": "r-1", "name": "x"}`

	createRule(t, env, ownerKey, body)
	w := env.do(t, http.MethodPost, "/api/rules", ownerKey, body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRulesScopedToClient(t *testing.T) {
	env := newTestEnv(t)
	created := createRule(t, env, ownerKey, fanRule)

	w := env.do(t, http.MethodGet, "/api/rules", ownerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*rule.Rule](t, w), 1)

	w = env.do(t, http.MethodGet, "/api/rules", otherKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/rules/"+created.ID, ownerKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/rules/"+created.ID, otherKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/rules/"+created.ID, otherKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRule(t *testing.T) {
	env := newTestEnv(t)
	created := createRule(t, env, ownerKey, fanRule)

	w := env.do(t, http.MethodDelete, "/api/rules/"+created.ID, ownerKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/api/rules/"+created.ID, ownerKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetRuleActive(t *testing.T) {
	env := newTestEnv(t)
	created := createRule(t, env, ownerKey, fanRule)
	path := "/api/rules/" + created.ID + "/active"

	w := env.do(t, http.MethodPatch, path, ownerKey, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, path, ownerKey, `{"isActive": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[*rule.Rule](t, w).IsActive)

	w = env.do(t, http.MethodPatch, "/api/rules/missing/active", ownerKey, `{"isActive": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadingTriggersRule(t *testing.T) {
	env := newTestEnv(t)
	created := createRule(t, env, ownerKey, fanRule)
	ctx := context.Background()

	w := env.do(t, http.MethodPost, "/api/sensors", ownerKey, `{"deviceId":"temp-1","type":"Numeric","value":"35"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	fan, ok, err := env.readings.GetLatest(ctx, "owner", "fan-1")
	require.NoError(t, err)
	require.True(t, ok, "set_value action should store a fan reading")
	assert.Equal(t, reading.Boolean, fan.Type)
	assert.Equal(t, "true", fan.Value)

	stored, err := env.rules.Get(ctx, "owner", created.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastTriggered)

	// a paused rule no longer fires
	_, err = env.rules.SetActive(ctx, "owner", created.ID, false)
	require.NoError(t, err)
	require.NoError(t, env.readings.Delete(ctx, "owner", "fan-1"))

	w = env.do(t, http.MethodPost, "/api/sensors", ownerKey, `{"deviceId":"temp-1","type":"Numeric","value":"36"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	_, ok, err = env.readings.GetLatest(ctx, "owner", "fan-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
