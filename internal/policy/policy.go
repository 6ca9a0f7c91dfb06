// Package policy は操作ごとの認可ルールを提供する。
// ルールはコードではなくYAMLのデータとして持ち、ロール階層の変更はデータの編集で済む。
package policy

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/followgraph/internal/model"
)

//go:embed policy.yaml
var defaultPolicy []byte

// 操作ID
const (
	OpFollow             = "social.follow"
	OpUnfollow           = "social.unfollow"
	OpFollowersSelf      = "social.followers.self"
	OpFollowedSelf       = "social.followed.self"
	OpFollowersOfUser    = "social.followers.user"
	OpFollowedOfUser     = "social.followed.user"
	OpRoleHolders        = "roles.holders"
	transitionOpTemplate = "roles.%s.%s"
)

// Transition はロール遷移1件のルール。
type Transition struct {
	Action  string       `yaml:"action"`
	Role    model.Role   `yaml:"role"`
	Allowed []model.Role `yaml:"allowed"`
	Message string       `yaml:"message"`
}

// Operation は遷移の操作IDを返す。
func (t Transition) Operation() string {
	return TransitionOperation(t.Action, t.Role)
}

type document struct {
	Operations  map[string][]model.Role `yaml:"operations"`
	Transitions []Transition            `yaml:"transitions"`
}

// Policy は操作IDから許可ロールへの対応表。
type Policy struct {
	allowed     map[string][]model.Role
	transitions map[string]Transition
}

// TransitionOperation はロール遷移の操作IDを返す。
func TransitionOperation(action string, role model.Role) string {
	return fmt.Sprintf(transitionOpTemplate, action, role)
}

// Default は埋め込みのpolicy.yamlを読み込んだPolicyを返す。
func Default() (*Policy, error) {
	return Parse(defaultPolicy)
}

// LoadFile はファイルからPolicyを読み込む。
func LoadFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load はreaderからPolicyを読み込む。
func Load(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return Parse(data)
}

// Parse はYAMLからPolicyを構築する。未定義のロールや重複した遷移はエラーにする。
func Parse(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	p := &Policy{
		allowed:     make(map[string][]model.Role, len(doc.Operations)+len(doc.Transitions)),
		transitions: make(map[string]Transition, len(doc.Transitions)),
	}
	for op, roles := range doc.Operations {
		if err := validateRoles(op, roles); err != nil {
			return nil, err
		}
		p.allowed[op] = roles
	}
	for _, t := range doc.Transitions {
		if !t.Role.Valid() {
			return nil, fmt.Errorf("policy transition has invalid role: %q", t.Role)
		}
		if t.Action != "promote" && t.Action != "demote" {
			return nil, fmt.Errorf("policy transition has invalid action: %q", t.Action)
		}
		op := t.Operation()
		if _, dup := p.allowed[op]; dup {
			return nil, fmt.Errorf("policy operation defined twice: %s", op)
		}
		if err := validateRoles(op, t.Allowed); err != nil {
			return nil, err
		}
		p.allowed[op] = t.Allowed
		p.transitions[op] = t
	}
	return p, nil
}

func validateRoles(op string, roles []model.Role) error {
	for _, r := range roles {
		if !r.Valid() {
			return fmt.Errorf("policy operation %s has invalid role: %q", op, r)
		}
	}
	return nil
}

// Allows はheldのいずれかのロールでopが許可されるかを返す。未定義の操作は拒否する。
func (p *Policy) Allows(op string, held []model.Role) bool {
	allowed, ok := p.allowed[op]
	if !ok {
		return false
	}
	return model.HasAnyRole(held, allowed)
}

// Transition はロール遷移のルールを返す。定義されていない場合はfalse。
func (p *Policy) Transition(action string, role model.Role) (Transition, bool) {
	t, ok := p.transitions[TransitionOperation(action, role)]
	return t, ok
}

// Transitions は定義済みのロール遷移を操作ID順で返す。
func (p *Policy) Transitions() []Transition {
	out := make([]Transition, 0, len(p.transitions))
	for _, t := range p.transitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation() < out[j].Operation() })
	return out
}
