package bugtrack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/bugtrack/logger"
	"github.com/oarkflow/bugtrack/utils"
)

// ============================================================================
// ACTIONS & DECISIONS
// ============================================================================

// Action is what a principal wants to do to a target.
type Action string

const (
	ActionIndex         Action = "index"
	ActionRead          Action = "read"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionReadAddress   Action = "read_address"
	ActionUpdateAddress Action = "update_address"
	ActionNDA           Action = "nda"

	// ActionAll is a rule pattern matching every action.
	ActionAll Action = "*"
)

// AllActions lists the closed set of actions.
var AllActions = []Action{
	ActionIndex,
	ActionRead,
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionReadAddress,
	ActionUpdateAddress,
	ActionNDA,
}

func (a Action) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// IsWrite reports whether the action changes state.
func (a Action) IsWrite() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionUpdateAddress, ActionNDA:
		return true
	}
	return false
}

// ParseAction maps external input to an Action. "show" and "edit"/"destroy"
// style controller verbs are accepted.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "show":
		return ActionRead, nil
	case "new":
		return ActionCreate, nil
	case "edit":
		return ActionUpdate, nil
	case "destroy":
		return ActionDelete, nil
	}
	if a := Action(s); a.Valid() {
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func validActionPattern(pattern Action) bool {
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(string(pattern), "*") {
		return true
	}
	return pattern.Valid()
}

func matchAction(pattern, actual Action) bool {
	return utils.MatchAction(string(pattern), string(actual))
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed   bool     `json:"allowed"`
	Reason    string   `json:"reason"`
	MatchedBy string   `json:"matched_by,omitempty"` // rule id
	Role      Role     `json:"role,omitempty"`
	Scoped    bool     `json:"scoped,omitempty"` // class check granted only for records in scope
	Trace     []string `json:"trace,omitempty"`
}

// ============================================================================
// AUTHORIZATION ENGINE
// ============================================================================

type EngineOption func(*Engine) error

// activeRules pairs a table with its generation so cached decisions from a
// replaced table are never served.
type activeRules struct {
	table *RuleTable
	gen   uint64
}

type Engine struct {
	rules       atomic.Pointer[activeRules]
	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
	now         func() time.Time

	cache *decisionCache

	auditStore  AuditStore
	auditCh     chan AuditEntry
	auditMu     sync.RWMutex // guards auditCh against sends after Close
	auditClosed bool
	auditWG     sync.WaitGroup
	closeOnce   sync.Once
}

// NewEngine validates the rule table and builds an engine. A table missing an
// entity type or holding a malformed rule is rejected here, never per request.
func NewEngine(rules *RuleTable, opts ...EngineOption) (*Engine, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rule table: %w", err)
	}
	e := &Engine{
		logger: logger.NewDiscard(),
		now:    time.Now,
	}
	e.rules.Store(&activeRules{table: rules})
	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.Close()
			return nil, err
		}
	}
	if e.auditCh != nil {
		e.auditWG.Add(1)
		go e.auditWorker()
	}
	return e, nil
}

// MustNewEngine is NewEngine for tables known to be valid at compile time.
func MustNewEngine(rules *RuleTable, opts ...EngineOption) *Engine {
	e, err := NewEngine(rules, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// WithAuditStore records every decision asynchronously. Entries are dropped
// when more than buffer are pending.
func WithAuditStore(store AuditStore, buffer int) EngineOption {
	return func(e *Engine) error {
		if store == nil {
			return nil
		}
		if buffer <= 0 {
			buffer = 1024
		}
		e.auditStore = store
		e.auditCh = make(chan AuditEntry, buffer)
		return nil
	}
}

// WithDecisionCache memoizes decisions in a ristretto cache.
func WithDecisionCache(cfg CacheConfig) EngineOption {
	return func(e *Engine) error {
		c, err := newDecisionCache(cfg)
		if err != nil {
			return err
		}
		e.cache = c
		return nil
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		if now != nil {
			e.now = now
		}
		return nil
	}
}

// Rules returns the engine's current rule table.
func (e *Engine) Rules() *RuleTable { return e.rules.Load().table }

// ReplaceRules validates rules and swaps them in for subsequent decisions.
// The current table stays active when validation fails.
func (e *Engine) ReplaceRules(rules *RuleTable) error {
	if rules == nil {
		return fmt.Errorf("rule table: nil")
	}
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("rule table: %w", err)
	}
	for {
		cur := e.rules.Load()
		if e.rules.CompareAndSwap(cur, &activeRules{table: rules, gen: cur.gen + 1}) {
			break
		}
	}
	e.InvalidateDecisionCache()
	e.logger.Info("rule table replaced", "rules", rules.Len())
	return nil
}

// Close stops the audit worker after draining queued entries and releases the
// cache. Decisions made after Close are still answered but not audited.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.auditCh != nil {
			e.auditMu.Lock()
			e.auditClosed = true
			close(e.auditCh)
			e.auditMu.Unlock()
			e.auditWG.Wait()
		}
		if e.cache != nil {
			e.cache.close()
		}
	})
}

// Decide reports whether p may perform action on target. A nil principal is
// anonymous. Decide never fails: anything unrecognized is denied.
func (e *Engine) Decide(p *Principal, action Action, target Target) Decision {
	return e.decide(p, action, target, false)
}

// Explain is Decide with a rule-by-rule trace.
func (e *Engine) Explain(p *Principal, action Action, target Target) Decision {
	return e.decide(p, action, target, true)
}

func (e *Engine) decide(p *Principal, action Action, target Target, trace bool) Decision {
	if p == nil {
		p = Anonymous()
	}
	rules := e.rules.Load()
	var d Decision
	switch {
	case target == nil || isNilRecord(target):
		d = Decision{Reason: "no target"}
	case !action.Valid():
		d = Decision{Reason: fmt.Sprintf("unknown action %q", action)}
	case !rules.table.Registered(target.EntityType()):
		d = Decision{Reason: fmt.Sprintf("unknown entity type %q", target.EntityType())}
	default:
		f := extractFacts(p, target)
		var key string
		if e.cache != nil && !trace {
			key = cacheKey(rules.gen, p.Roles, action, target.EntityType(), f)
			if cached, ok := e.cache.get(key); ok {
				e.record(p, action, target, cached)
				return cached
			}
		}
		d = evaluate(rules.table, p.Roles, action, target.EntityType(), f, trace)
		if key != "" {
			e.cache.set(key, d)
		}
	}
	e.record(p, action, target, d)
	return d
}

// evaluate walks the rule lists of each role. Within a role the first rule
// whose actions match and whose guard holds decides; any allowing role grants.
func evaluate(table *RuleTable, roles RoleSet, action Action, entity EntityType, f facts, trace bool) Decision {
	var (
		scoped *Decision
		denied *Decision
		steps  []string
	)
	for _, role := range roles {
		outcomeFor := func(r Rule) (string, bool) {
			if !r.Matches(action) {
				return "action mismatch", false
			}
			switch evalGuard(r.Guard, f) {
			case outcomeTrue:
				return "match", true
			case outcomeScoped:
				if r.Effect == EffectAllow {
					return "scoped", true
				}
				return "skipped (needs record)", false
			}
			return "guard false", false
		}
		decided := false
		for _, r := range table.Rules(entity, role) {
			result, hit := outcomeFor(r)
			if trace {
				steps = append(steps, fmt.Sprintf("%s: %s %s %s if %s => %s", role, r.ID, r.Effect, joinActions(r.Actions), r.Guard, result))
			}
			if !hit {
				continue
			}
			decided = true
			if r.Effect == EffectDeny {
				if denied == nil {
					denied = &Decision{Reason: "denied by rule " + r.ID, MatchedBy: r.ID, Role: role}
				}
				break
			}
			if result == "scoped" {
				if scoped == nil {
					scoped = &Decision{Allowed: true, Scoped: true, Reason: "allowed by rule " + r.ID + " for records in scope", MatchedBy: r.ID, Role: role}
				}
				break
			}
			return Decision{Allowed: true, Reason: "allowed by rule " + r.ID, MatchedBy: r.ID, Role: role, Trace: steps}
		}
		if trace && !decided {
			steps = append(steps, fmt.Sprintf("%s: no rule matched", role))
		}
	}
	var d Decision
	switch {
	case scoped != nil:
		d = *scoped
	case denied != nil:
		d = *denied
	default:
		d = Decision{Reason: "no rule matched"}
	}
	d.Trace = steps
	return d
}

func joinActions(actions []Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

func cacheKey(gen uint64, roles RoleSet, action Action, entity EntityType, f facts) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(gen, 10))
	b.WriteByte('|')
	b.WriteString(roles.String())
	b.WriteByte('|')
	b.WriteString(string(action))
	b.WriteByte('|')
	b.WriteString(string(entity))
	b.WriteByte('|')
	for _, flag := range []bool{f.class, f.hasGame, f.porter, f.ownPort, f.self, f.ownStudio} {
		if flag {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(f.bundleState)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(f.gameState)))
	return b.String()
}

// DecideIndex checks a nested listing: the parent (when given) must itself
// allow index, then the collection check for entity applies.
func (e *Engine) DecideIndex(p *Principal, entity EntityType, parent Target) Decision {
	if parent != nil {
		if d := e.Decide(p, ActionIndex, parent); !d.Allowed {
			return d
		}
	}
	return e.Decide(p, ActionIndex, entity)
}

// VisibleScope filters a loaded relation to the records of entity that p may
// act on. An index listing shows the records p may read.
func (e *Engine) VisibleScope(p *Principal, action Action, entity EntityType, relation []Target) []Target {
	if action == ActionIndex {
		action = ActionRead
	}
	out := make([]Target, 0, len(relation))
	for _, t := range relation {
		if t == nil || t.EntityType() != entity {
			continue
		}
		if e.Decide(p, action, t).Allowed {
			out = append(out, t)
		}
	}
	return out
}

// Scope is VisibleScope for a typed relation.
func Scope[T Target](e *Engine, p *Principal, action Action, relation []T) []T {
	if action == ActionIndex {
		action = ActionRead
	}
	out := make([]T, 0, len(relation))
	for _, t := range relation {
		if e.Decide(p, action, t).Allowed {
			out = append(out, t)
		}
	}
	return out
}

// Permitted lists the actions p may perform on target.
func (e *Engine) Permitted(p *Principal, target Target) []Action {
	actions := make([]Action, 0, len(AllActions))
	for _, a := range AllActions {
		if e.Decide(p, a, target).Allowed {
			actions = append(actions, a)
		}
	}
	return actions
}

// InvalidateDecisionCache drops every cached decision.
func (e *Engine) InvalidateDecisionCache() {
	if e.cache != nil {
		e.cache.clear()
	}
}

// ============================================================================
// AUDIT
// ============================================================================

func (e *Engine) record(p *Principal, action Action, target Target, d Decision) {
	e.logger.Debug("decision",
		"user", p.UserID(),
		"roles", p.Roles.String(),
		"action", string(action),
		"target", targetLabel(target),
		"allowed", d.Allowed,
		"matched_by", d.MatchedBy,
	)
	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		ID:        e.newAuditID(),
		Timestamp: e.now(),
		UserID:    p.UserID(),
		Roles:     p.Roles.String(),
		Action:    action,
		Allowed:   d.Allowed,
		MatchedBy: d.MatchedBy,
		Reason:    d.Reason,
	}
	if target != nil {
		entry.Entity = target.EntityType()
		if r, ok := target.(Record); ok && !isNilRecord(r) {
			entry.RecordID = r.RecordID()
		}
	}
	e.auditMu.RLock()
	defer e.auditMu.RUnlock()
	if e.auditClosed {
		return
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Error("audit queue full, dropping entry", "id", entry.ID)
	}
}

func (e *Engine) newAuditID() string {
	if e.traceIDFunc != nil {
		return e.traceIDFunc()
	}
	return uuid.NewString()
}

func (e *Engine) auditWorker() {
	defer e.auditWG.Done()
	bg := context.Background()
	for entry := range e.auditCh {
		if err := e.auditStore.LogDecision(bg, &entry); err != nil {
			e.logger.Error("audit write failed", "id", entry.ID, "error", err.Error())
		}
	}
}

// GetAccessLog queries the audit store.
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.auditStore == nil {
		return nil, nil
	}
	return e.auditStore.GetAccessLog(ctx, filter)
}

func targetLabel(t Target) string {
	if t == nil {
		return ""
	}
	if isNilRecord(t) {
		return string(t.EntityType()) + ":<nil>"
	}
	if r, ok := t.(Record); ok {
		return string(r.EntityType()) + ":" + r.RecordID()
	}
	return string(t.EntityType())
}
