package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"2s","b":1000000}`), &v))
	assert.Equal(t, 2*time.Second, v.A.Duration)
	assert.Equal(t, time.Millisecond, v.B.Duration)

	out, err := json.Marshal(Duration{Duration: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `"1.5s"`, string(out))
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 500ms\nb: 2000\n"), &v))
	assert.Equal(t, 500*time.Millisecond, v.A.Duration)
	assert.Equal(t, 2*time.Microsecond, v.B.Duration)
}

func TestDuration_Invalid(t *testing.T) {
	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}
