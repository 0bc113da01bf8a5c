package guardian

import (
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermission(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"permission", fs.ErrPermission, true},
		{"wrapped permission", fmt.Errorf("open source: %w", fs.ErrPermission), true},
		{"path error permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, true},
		{"not exist", os.ErrNotExist, false},
		{"plain error", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPermission(tt.err))
		})
	}
}
