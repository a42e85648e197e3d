package testutil

import (
	"io"
	"log"
	"os"
	"testing"

	"github.com/jacario/jacario/internal/types"
)

// TestLogger returns a logger that only writes when tests run with -v.
func TestLogger(t *testing.T) *log.Logger {
	var out io.Writer = io.Discard
	if testing.Verbose() {
		out = os.Stdout
	}

	logger := log.New(out, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}

func NewUser(id int, username string, role types.Role) types.User {
	return types.User{
		Id:           id,
		Username:     username,
		EmailAddress: username + "@example.com",
		Avatar:       types.DefaultAvatar,
		Role:         role,
	}
}
