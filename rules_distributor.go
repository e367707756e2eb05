package bugtrack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oarkflow/bugtrack/logger"
)

// ErrBadSignature is returned when signed rules fail verification.
var ErrBadSignature = errors.New("rules signature does not verify")

// SignedRules is a rule table in its text form, signed for distribution to
// other processes.
type SignedRules struct {
	Version     uint64            `json:"version"`
	Rules       []byte            `json:"rules"`
	Signature   []byte            `json:"signature"`
	GeneratedAt time.Time         `json:"generated_at"`
	Meta        map[string]string `json:"meta,omitempty"`
}

func signedPayload(version uint64, rules []byte) []byte {
	var b bytes.Buffer
	b.WriteString("bugtrack-rules\n")
	b.WriteString(strconv.FormatUint(version, 10))
	b.WriteByte('\n')
	b.Write(rules)
	return b.Bytes()
}

// SignRules encodes table and signs it with priv.
func SignRules(priv ed25519.PrivateKey, table *RuleTable, version uint64) (*SignedRules, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key: invalid size %d", len(priv))
	}
	if table == nil {
		return nil, fmt.Errorf("rule table: nil")
	}
	text := NewDSLEncoder().Encode(&PolicyFile{Rules: table})
	return &SignedRules{
		Version:   version,
		Rules:     text,
		Signature: ed25519.Sign(priv, signedPayload(version, text)),
	}, nil
}

// Verify checks the signature and parses the rules. The returned table is
// validated.
func (s *SignedRules) Verify(pub ed25519.PublicKey) (*RuleTable, error) {
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, signedPayload(s.Version, s.Rules), s.Signature) {
		return nil, ErrBadSignature
	}
	f, err := NewDSLParser().Parse(s.Rules)
	if err != nil {
		return nil, fmt.Errorf("signed rules v%d: %w", s.Version, err)
	}
	if err := f.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("signed rules v%d: %w", s.Version, err)
	}
	return f.Rules, nil
}

type RulesSubscriber interface {
	OnRules(ctx context.Context, pub ed25519.PublicKey, rules *SignedRules) error
}

type RulesSubscriberFunc func(ctx context.Context, pub ed25519.PublicKey, rules *SignedRules) error

func (f RulesSubscriberFunc) OnRules(ctx context.Context, pub ed25519.PublicKey, rules *SignedRules) error {
	return f(ctx, pub, rules)
}

// EngineSubscriber verifies published rules and installs them on e. When
// trusted keys are given the publisher's key must be one of them.
func EngineSubscriber(e *Engine, trusted ...ed25519.PublicKey) RulesSubscriber {
	return RulesSubscriberFunc(func(ctx context.Context, pub ed25519.PublicKey, rules *SignedRules) error {
		if len(trusted) > 0 && !containsKey(trusted, pub) {
			return fmt.Errorf("%w: untrusted key", ErrBadSignature)
		}
		table, err := rules.Verify(pub)
		if err != nil {
			return err
		}
		return e.ReplaceRules(table)
	})
}

func containsKey(keys []ed25519.PublicKey, pub ed25519.PublicKey) bool {
	for _, k := range keys {
		if k.Equal(pub) {
			return true
		}
	}
	return false
}

// RulesSource loads the rule table to publish.
type RulesSource func(ctx context.Context) (*RuleTable, error)

// ConfigRulesSource publishes the rules of cfg.
func ConfigRulesSource(cfg *Config) RulesSource {
	return func(context.Context) (*RuleTable, error) {
		return cfg.RuleTable()
	}
}

// RulesDistributor signs the current rule table and pushes it to subscribers
// whenever NotifyRulesChange is called.
type RulesDistributor struct {
	source           RulesSource
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	rotationInterval time.Duration
	logger           logger.Logger
	now              func() time.Time
	version          uint64
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []RulesSubscriber
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

type RulesDistributorOption func(*RulesDistributor)

func WithRulesSigningKey(priv ed25519.PrivateKey) RulesDistributorOption {
	return func(d *RulesDistributor) {
		if len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

func WithRulesRotationInterval(interval time.Duration) RulesDistributorOption {
	return func(d *RulesDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

func WithDistributorLogger(l logger.Logger) RulesDistributorOption {
	return func(d *RulesDistributor) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewRulesDistributor(source RulesSource, opts ...RulesDistributorOption) (*RulesDistributor, error) {
	if source == nil {
		return nil, fmt.Errorf("rules source is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	d := &RulesDistributor{
		source:           source,
		priv:             priv,
		pub:              pub,
		rotationInterval: 24 * time.Hour,
		logger:           logger.NewDiscard(),
		now:              time.Now,
		notifyCh:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start runs the publish loop until ctx is done or Stop is called. A stopped
// distributor may be started again.
func (d *RulesDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	stop := make(chan struct{})
	d.stopCh = stop
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-d.notifyCh:
				if err := d.Publish(ctx); err != nil {
					d.logger.Error("rules distribution failed", "error", err)
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.logger.Error("rules key rotation failed", "error", err)
				}
			}
		}
	}()
}

func (d *RulesDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyRulesChange schedules a publish. Notifications coalesce while one is
// pending.
func (d *RulesDistributor) NotifyRulesChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *RulesDistributor) Subscribe(sub RulesSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *RulesDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.mu.Unlock()
	d.logger.Info("rules signing key rotated")
	return nil
}

func (d *RulesDistributor) CurrentPublicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

// Publish loads, signs and delivers the rules synchronously. Subscriber
// errors are logged and do not stop delivery to the others.
func (d *RulesDistributor) Publish(ctx context.Context) error {
	table, err := d.source(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if err := table.Validate(); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	d.mu.Lock()
	d.version++
	version := d.version
	priv, pub := d.priv, append(ed25519.PublicKey(nil), d.pub...)
	subs := append([]RulesSubscriber(nil), d.subscribers...)
	d.mu.Unlock()

	signed, err := SignRules(priv, table, version)
	if err != nil {
		return err
	}
	signed.GeneratedAt = d.now().UTC()
	signed.Meta = map[string]string{"signing_key": base64.StdEncoding.EncodeToString(pub)}

	for _, sub := range subs {
		if err := sub.OnRules(ctx, pub, signed); err != nil {
			d.logger.Error("rules subscriber failed", "version", version, "error", err)
		}
	}
	d.logger.Info("rules published", "version", version, "subscribers", len(subs))
	return nil
}
