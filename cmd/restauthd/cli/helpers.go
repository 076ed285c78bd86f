package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/store"
)

// findUser resolves a login name or email.
func findUser(ctx context.Context, auth *restauth.Auth, name string) (*store.User, error) {
	u, err := auth.Store().FindUser(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %q not found", name)
	}
	return u, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
