package stores

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/bugtrack"
)

// SQLCatalogStore implements bugtrack.CatalogStore and bugtrack.PortStore.
// Games are always loaded joined with their bundle.
type SQLCatalogStore struct {
	db *squealx.DB
}

func NewSQLCatalogStore(db *squealx.DB) *SQLCatalogStore {
	return &SQLCatalogStore{db: db}
}

const gameSelect = `SELECT g.id, g.name, g.bundle_id, g.state,
	COALESCE(b.id, ''), COALESCE(b.name, ''), COALESCE(b.description, ''), COALESCE(b.state, '')
	FROM games g LEFT JOIN bundles b ON b.id = g.bundle_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(r rowScanner, extra ...any) (*bugtrack.Game, error) {
	var g bugtrack.Game
	var gameState, bundleID, bundleName, bundleDesc, bundleState string
	dest := append([]any{&g.ID, &g.Name, &g.BundleID, &gameState, &bundleID, &bundleName, &bundleDesc, &bundleState}, extra...)
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	_ = g.State.UnmarshalText([]byte(gameState))
	if bundleID != "" {
		b := &bugtrack.Bundle{ID: bundleID, Name: bundleName, Description: bundleDesc}
		_ = b.State.UnmarshalText([]byte(bundleState))
		g.Bundle = b
	}
	return &g, nil
}

func (s *SQLCatalogStore) SaveBundle(ctx context.Context, b *bugtrack.Bundle) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	q := `INSERT OR REPLACE INTO bundles(id, name, description, state) VALUES(:id, :name, :description, :state)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          b.ID,
		"name":        b.Name,
		"description": b.Description,
		"state":       b.State.String(),
	})
	if err != nil {
		return fmt.Errorf("save bundle %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLCatalogStore) GetBundle(ctx context.Context, id string) (*bugtrack.Bundle, error) {
	bundles, err := s.queryBundles(ctx, `SELECT id, name, description, state FROM bundles WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, fmt.Errorf("bundle %s: %w", id, bugtrack.ErrNotFound)
	}
	b := bundles[0]
	games, err := s.ListGames(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Games = games
	return b, nil
}

func (s *SQLCatalogStore) ListBundles(ctx context.Context) ([]*bugtrack.Bundle, error) {
	return s.queryBundles(ctx, `SELECT id, name, description, state FROM bundles ORDER BY name`, map[string]any{})
}

func (s *SQLCatalogStore) queryBundles(ctx context.Context, q string, params map[string]any) ([]*bugtrack.Bundle, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*bugtrack.Bundle, 0)
	for r.Next() {
		var b bugtrack.Bundle
		var state string
		if err := r.Scan(&b.ID, &b.Name, &b.Description, &state); err != nil {
			return nil, err
		}
		_ = b.State.UnmarshalText([]byte(state))
		out = append(out, &b)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLCatalogStore) SaveGame(ctx context.Context, g *bugtrack.Game) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	bundleID := g.BundleID
	if bundleID == "" && g.Bundle != nil {
		bundleID = g.Bundle.ID
	}
	q := `INSERT OR REPLACE INTO games(id, name, bundle_id, state) VALUES(:id, :name, :bundle_id, :state)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":        g.ID,
		"name":      g.Name,
		"bundle_id": bundleID,
		"state":     g.State.String(),
	})
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQLCatalogStore) GetGame(ctx context.Context, id string) (*bugtrack.Game, error) {
	games, err := s.queryGames(ctx, gameSelect+` WHERE g.id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, fmt.Errorf("game %s: %w", id, bugtrack.ErrNotFound)
	}
	return games[0], nil
}

func (s *SQLCatalogStore) ListGames(ctx context.Context, bundleID string) ([]*bugtrack.Game, error) {
	if bundleID == "" {
		return s.queryGames(ctx, gameSelect+` ORDER BY g.name`, map[string]any{})
	}
	return s.queryGames(ctx, gameSelect+` WHERE g.bundle_id = :bundle_id ORDER BY g.name`, map[string]any{"bundle_id": bundleID})
}

func (s *SQLCatalogStore) queryGames(ctx context.Context, q string, params map[string]any) ([]*bugtrack.Game, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*bugtrack.Game, 0)
	for r.Next() {
		g, err := scanGame(r)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLCatalogStore) SaveIssue(ctx context.Context, i *bugtrack.Issue) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	q := `INSERT OR REPLACE INTO issues(id, game_id, description, status, reported_against_id, fixed_in_id) VALUES(:id, :game_id, :description, :status, :reported_against_id, :fixed_in_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                  i.ID,
		"game_id":             i.GameID,
		"description":         i.Description,
		"status":              i.Status.String(),
		"reported_against_id": i.ReportedAgainstID,
		"fixed_in_id":         i.FixedInID,
	})
	if err != nil {
		return fmt.Errorf("save issue %s: %w", i.ID, err)
	}
	return nil
}

func (s *SQLCatalogStore) GetIssue(ctx context.Context, id string) (*bugtrack.Issue, error) {
	q := `SELECT id, game_id, description, status, reported_against_id, fixed_in_id FROM issues WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var issue bugtrack.Issue
	var status string
	found := r.Next()
	if found {
		err = r.Scan(&issue.ID, &issue.GameID, &issue.Description, &status, &issue.ReportedAgainstID, &issue.FixedInID)
	} else {
		err = r.Err()
	}
	r.Close()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("issue %s: %w", id, bugtrack.ErrNotFound)
	}
	_ = issue.Status.UnmarshalText([]byte(status))
	if issue.GameID != "" {
		g, err := s.GetGame(ctx, issue.GameID)
		if err != nil {
			return nil, fmt.Errorf("issue %s: %w", id, err)
		}
		issue.Game = g
	}
	return &issue, nil
}

func (s *SQLCatalogStore) SaveTag(ctx context.Context, t *bugtrack.PredefinedTag) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	q := `INSERT OR REPLACE INTO predefined_tags(id, name, context) VALUES(:id, :name, :context)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": t.ID, "name": t.Name, "context": t.Context})
	return err
}

func (s *SQLCatalogStore) ListTags(ctx context.Context, tagContext string) ([]*bugtrack.PredefinedTag, error) {
	q := `SELECT id, name, context FROM predefined_tags WHERE context = :context ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"context": tagContext})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*bugtrack.PredefinedTag, 0)
	for r.Next() {
		var t bugtrack.PredefinedTag
		if err := r.Scan(&t.ID, &t.Name, &t.Context); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const portSelect = `SELECT COALESCE(g.id, p.game_id), COALESCE(g.name, ''), COALESCE(g.bundle_id, ''), COALESCE(g.state, ''),
	COALESCE(b.id, ''), COALESCE(b.name, ''), COALESCE(b.description, ''), COALESCE(b.state, ''),
	p.id, p.game_id, p.porter_id, p.system_id
	FROM ports p LEFT JOIN games g ON g.id = p.game_id LEFT JOIN bundles b ON b.id = g.bundle_id`

func (s *SQLCatalogStore) SavePort(ctx context.Context, p *bugtrack.Port) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	gameID := p.GameID
	if gameID == "" && p.Game != nil {
		gameID = p.Game.ID
	}
	q := `INSERT OR REPLACE INTO ports(id, game_id, porter_id, system_id) VALUES(:id, :game_id, :porter_id, :system_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":        p.ID,
		"game_id":   gameID,
		"porter_id": p.PorterID,
		"system_id": p.SystemID,
	})
	if err != nil {
		return fmt.Errorf("save port %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLCatalogStore) GetPort(ctx context.Context, id string) (*bugtrack.Port, error) {
	ports, err := s.queryPorts(ctx, portSelect+` WHERE p.id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("port %s: %w", id, bugtrack.ErrNotFound)
	}
	return ports[0], nil
}

func (s *SQLCatalogStore) ListPortsByPorter(ctx context.Context, userID string) ([]*bugtrack.Port, error) {
	return s.queryPorts(ctx, portSelect+` WHERE p.porter_id = :porter_id ORDER BY p.id`, map[string]any{"porter_id": userID})
}

func (s *SQLCatalogStore) ListPortsByGame(ctx context.Context, gameID string) ([]*bugtrack.Port, error) {
	return s.queryPorts(ctx, portSelect+` WHERE p.game_id = :game_id ORDER BY p.id`, map[string]any{"game_id": gameID})
}

func (s *SQLCatalogStore) queryPorts(ctx context.Context, q string, params map[string]any) ([]*bugtrack.Port, error) {
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*bugtrack.Port, 0)
	for r.Next() {
		var p bugtrack.Port
		g, err := scanGame(r, &p.ID, &p.GameID, &p.PorterID, &p.SystemID)
		if err != nil {
			return nil, err
		}
		p.Game = g
		out = append(out, &p)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
