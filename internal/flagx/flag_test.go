package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "agent.yaml", "-db", "local.db"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "agent.yaml"},
		},
		{
			name:         "flag with equals",
			args:         []string{"-config=alt.json", "-db", "local.db"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=alt.json"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag followed by another flag keeps no value",
			args:         []string{"-c", "-notvalue"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "multiple allowed flags kept in order",
			args:         []string{"-db", "x.db", "-c", "conf.json", "--other", "x"},
			allowedFlags: []string{"-c", "-db"},
			want:         []string{"-db", "x.db", "-c", "conf.json"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	assert.Equal(t, "a.yaml", ConfigFileFlag([]string{"-c", "a.yaml", "-i", "5"}))
	assert.Equal(t, "b.json", ConfigFileFlag([]string{"-config=b.json"}))
	assert.Equal(t, "", ConfigFileFlag([]string{"-i", "5"}))
}
