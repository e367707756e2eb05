package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/bugtrack"
	"github.com/oarkflow/bugtrack/logger"
	"github.com/oarkflow/bugtrack/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error
	switch cmd {
	case "rules":
		handleRules()
	case "validate":
		err = handleValidate()
	case "convert":
		err = handleConvert()
	case "explain":
		err = handleExplain()
	case "migrate":
		err = handleMigrate()
	case "sign":
		err = handleSign()
	case "verify":
		err = handleVerify()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("bugtrack-policy - inspect and check tracker permissions")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  bugtrack-policy rules                                          - Print the default rule table")
	fmt.Println("  bugtrack-policy validate <file>                                - Validate a rules file")
	fmt.Println("  bugtrack-policy convert <input> <output>                       - Convert between .rules and .yaml")
	fmt.Println("  bugtrack-policy explain <config> <email|-> <action> <entity>[:id] - Trace one decision")
	fmt.Println("  bugtrack-policy migrate <config>                               - Create the database schema")
	fmt.Println("  bugtrack-policy sign <config> <output.json>                    - Sign the configured rules")
	fmt.Println("  bugtrack-policy verify <signed.json> <public-key>              - Verify signed rules")
}

func usage(line string) error {
	return fmt.Errorf("usage: bugtrack-policy %s", line)
}

func handleRules() {
	os.Stdout.Write(bugtrack.NewDSLEncoder().Encode(&bugtrack.PolicyFile{Rules: bugtrack.DefaultRules()}))
}

func handleValidate() error {
	if len(os.Args) < 3 {
		return usage("validate <file>")
	}
	f, err := loadPolicyFile(os.Args[2])
	if err != nil {
		return fmt.Errorf("invalid rules file: %w", err)
	}
	table := bugtrack.DefaultRules()
	table.Merge(f.Rules)
	if err := table.Validate(); err != nil {
		return fmt.Errorf("invalid rules file: %w", err)
	}
	fmt.Printf("Rules file is valid\n")
	fmt.Printf("  Rules:       %d\n", f.Rules.Len())
	fmt.Printf("  Memberships: %d\n", len(f.Memberships))
	return nil
}

func handleConvert() error {
	if len(os.Args) < 4 {
		return usage("convert <input> <output>")
	}
	in, out := os.Args[2], os.Args[3]
	f, err := loadPolicyFile(in)
	if err != nil {
		return err
	}
	var data []byte
	switch ext := strings.ToLower(filepath.Ext(out)); ext {
	case ".yaml", ".yml":
		if data, err = f.ToYAML(); err != nil {
			return err
		}
	case ".rules", ".dsl":
		data = bugtrack.NewDSLEncoder().Encode(f)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", in, out)
	return nil
}

func handleExplain() error {
	if len(os.Args) < 6 {
		return usage("explain <config> <email|-> <action> <entity>[:id]")
	}
	ctx := context.Background()
	cfg, err := bugtrack.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		return err
	}
	sqlDB, db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	catalog := stores.NewSQLCatalogStore(db)
	var members bugtrack.RoleMembershipStore = stores.NewSQLRoleMembershipStore(db)
	if cfg.Redis.Addr != "" {
		client := stores.NewRedisClient(cfg.Redis)
		defer client.Close()
		members = stores.NewRedisRoleMembershipStore(client, cfg.Redis.KeyPrefix)
	}

	var user *bugtrack.User
	if email := os.Args[3]; email != "-" {
		if user, err = stores.NewSQLUserStore(db).FindUserByEmail(ctx, email); err != nil {
			return err
		}
	}
	p, err := bugtrack.NewRoleResolver(members, catalog).Resolve(ctx, user)
	if err != nil {
		return err
	}
	target, err := loadTarget(ctx, catalog, os.Args[5])
	if err != nil {
		return err
	}
	engine, err := bugtrack.NewEngineFromConfig(cfg, nil, bugtrack.WithLogger(logger.NewPhusluLogger()))
	if err != nil {
		return err
	}
	defer engine.Close()

	d := engine.Explain(p, bugtrack.Action(os.Args[4]), target)
	fmt.Printf("roles:   %s\n", p.Roles)
	for _, line := range d.Trace {
		fmt.Printf("  %s\n", line)
	}
	verdict := "DENY"
	if d.Allowed {
		verdict = "ALLOW"
	}
	fmt.Printf("%s: %s\n", verdict, d.Reason)
	return nil
}

// loadTarget resolves "entity" to the class and "entity:id" to the stored record.
func loadTarget(ctx context.Context, catalog *stores.SQLCatalogStore, ref string) (bugtrack.Target, error) {
	name, id, _ := strings.Cut(ref, ":")
	entity, err := bugtrack.ParseEntityType(name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return entity, nil
	}
	var rec bugtrack.Record
	switch entity {
	case bugtrack.EntityBundle:
		rec, err = catalog.GetBundle(ctx, id)
	case bugtrack.EntityGame:
		rec, err = catalog.GetGame(ctx, id)
	case bugtrack.EntityIssue:
		rec, err = catalog.GetIssue(ctx, id)
	case bugtrack.EntityPort:
		rec, err = catalog.GetPort(ctx, id)
	case bugtrack.EntityUser:
		rec = &bugtrack.User{ID: id}
	default:
		return nil, errors.New("records of " + string(entity) + " are not stored; check the class instead")
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func handleMigrate() error {
	if len(os.Args) < 3 {
		return usage("migrate <config>")
	}
	cfg, err := bugtrack.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		return err
	}
	sqlDB, db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := stores.Migrate(db); err != nil {
		return err
	}
	fmt.Printf("Migrated %s\n", cfg.Database.DSN)
	return nil
}

func handleSign() error {
	if len(os.Args) < 4 {
		return usage("sign <config> <output.json>")
	}
	cfg, err := bugtrack.NewConfigLoader().LoadFile(os.Args[2])
	if err != nil {
		return err
	}
	table, err := cfg.RuleTable()
	if err != nil {
		return err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	signed, err := bugtrack.SignRules(priv, table, uint64(cfg.Version))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(os.Args[3], data, 0644); err != nil {
		return err
	}
	fmt.Printf("Signed %d rules -> %s\n", table.Len(), os.Args[3])
	fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(pub))
	return nil
}

func handleVerify() error {
	if len(os.Args) < 4 {
		return usage("verify <signed.json> <public-key>")
	}
	data, err := os.ReadFile(os.Args[2])
	if err != nil {
		return err
	}
	var signed bugtrack.SignedRules
	if err := json.Unmarshal(data, &signed); err != nil {
		return fmt.Errorf("decode %s: %w", os.Args[2], err)
	}
	pub, err := base64.StdEncoding.DecodeString(os.Args[3])
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	table, err := signed.Verify(ed25519.PublicKey(pub))
	if err != nil {
		return err
	}
	fmt.Printf("Signature valid: version %d, %d rules\n", signed.Version, table.Len())
	return nil
}

func openDB(cfg *bugtrack.Config) (*sql.DB, *squealx.DB, error) {
	driver := cfg.Database.Driver
	if driver == "" {
		driver = "sqlite"
	}
	sqlDB, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return sqlDB, squealx.NewDb(sqlDB, driver, cfg.Database.DSN), nil
}

func loadPolicyFile(path string) (*bugtrack.PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".rules", ".dsl":
		return bugtrack.NewDSLParser().Parse(data)
	case ".yaml", ".yml":
		return bugtrack.PolicyFileFromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}
