package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/followgraph/internal/model"
	"github.com/hitoshi/followgraph/internal/policy"
)

func TestRequireOperation(t *testing.T) {
	p, err := policy.Default()
	if err != nil {
		t.Fatalf("policy.Default() error = %v", err)
	}

	tests := []struct {
		name   string
		op     string
		roles  []model.Role
		status int
	}{
		{"user follows", policy.OpFollow, []model.Role{model.RoleUser}, http.StatusOK},
		{"moderator cannot follow", policy.OpFollow, []model.Role{model.RoleModerator}, http.StatusForbidden},
		{"moderator reads other followers", policy.OpFollowersOfUser, []model.Role{model.RoleModerator}, http.StatusOK},
		{"admin promotes employee", policy.TransitionOperation("promote", model.RoleEmployee), []model.Role{model.RoleUser, model.RoleCompanyAdmin}, http.StatusOK},
		{"user cannot promote", policy.TransitionOperation("promote", model.RoleEmployee), []model.Role{model.RoleUser}, http.StatusForbidden},
		{"no roles", policy.OpFollow, nil, http.StatusForbidden},
		{"unknown operation", "social.delete_everything", []model.Role{model.RoleModerator}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireOperation(p, tt.op)(okHandler)

			req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
			ctx := ContextWithUserID(req.Context(), "user-1")
			req = req.WithContext(ContextWithRoles(ctx, tt.roles))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == http.StatusForbidden {
				if body := decodeErrorBody(t, resp); body.Code != model.ErrCodeForbidden {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbidden)
				}
			}
		})
	}
}
