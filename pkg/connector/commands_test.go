package connector

import (
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]string
		targets  []string
		uploads  int
		contract contract
		want     bool
	}{
		{
			name:     "empty contract accepts anything",
			data:     map[string]string{"whatever": "x"},
			contract: contract{},
			want:     true,
		},
		{
			name:     "required parameter present",
			data:     map[string]string{"target": "A_"},
			contract: contract{"target": true},
			want:     true,
		},
		{
			name:     "required parameter missing",
			data:     map[string]string{},
			contract: contract{"target": true},
			want:     false,
		},
		{
			name:     "present empty string still counts as present",
			data:     map[string]string{"target": ""},
			contract: contract{"target": true},
			want:     true,
		},
		{
			name:     "forbidden parameter present",
			data:     map[string]string{"target": "A_", "name": "x"},
			contract: contract{"target": true, "name": false},
			want:     false,
		},
		{
			name:     "forbidden parameter absent",
			data:     map[string]string{"target": "A_"},
			contract: contract{"target": true, "name": false},
			want:     true,
		},
		{
			name:     "required targets list present",
			targets:  []string{"A_x"},
			contract: contract{"targets[]": true},
			want:     true,
		},
		{
			name:     "empty targets list counts as absent",
			targets:  []string{},
			contract: contract{"targets[]": true},
			want:     false,
		},
		{
			name:     "uploads count as a parameter",
			uploads:  1,
			contract: contract{"upload[]": true},
			want:     true,
		},
		{
			name:     "parameters outside the contract are ignored",
			data:     map[string]string{"target": "A_", "tree": "1", "init": "1"},
			contract: contract{"target": true},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &session{
				data:    tt.data,
				targets: tt.targets,
				uploads: make([]*multipart.FileHeader, tt.uploads),
			}
			if s.data == nil {
				s.data = map[string]string{}
			}
			assert.Equal(t, tt.want, s.validate(tt.contract))
		})
	}
}

// Every registered command must declare a contract and a handler; a nil entry
// would panic at dispatch time.
func TestCommandRegistryIsComplete(t *testing.T) {
	expected := []string{
		"open", "tree", "file", "parents", "mkdir", "mkfile", "rename",
		"ls", "paste", "rm", "upload", "extract", "archive",
	}

	assert.Len(t, commands, len(expected))
	for _, name := range expected {
		cmd, ok := commands[name]
		assert.True(t, ok, "command %q not registered", name)
		assert.NotNil(t, cmd.run, "command %q has no handler", name)
		assert.NotNil(t, cmd.params, "command %q has no contract", name)
	}
}
