// Package dbadmin implements the cluster's account and database lifecycle:
// the thin external collaborator the insert path depends on to produce the
// database instances (and the client credentials) it serves, grounded on
// original_source/src/siri/admin/request.c.
package dbadmin

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/tsdbnode/tsdbnode/internal/repository"
)

// nameRE is the account/database name validation regex carried verbatim
// from siri_admin_request_init: an alphabetic first character, up to 18
// interior alphanumeric/dash/underscore characters, and an alphanumeric
// last character.
var nameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-_]{0,18}[a-zA-Z0-9]$`)

// Defaults mirror admin/request.c's DEFAULT_TIME_PRECISION / DEFAULT_BUFFER_SIZE /
// DEFAULT_DURATION_NUM / DEFAULT_DURATION_LOG.
const (
	DefaultTimePrecision = "s"
	DefaultBufferSize    = 1024
	DefaultDurationNum   = "1w"
	DefaultDurationLog   = "1d"

	dbConfFile = "database.conf"
)

// defaultConfTemplate mirrors admin/request.c's DEFAULT_CONF: a commented
// default configuration file written into every freshly created database
// directory.
const defaultConfTemplate = `# SiriDB-style database configuration, generated at creation time.
# [database]
name = %s
time_precision = %s
buffer_size = %d
duration_num = %s
duration_log = %s
`

// NewDatabaseRequest is the ADMIN_NEW_DATABASE request body.
type NewDatabaseRequest struct {
	DBName        string `json:"dbname"`
	TimePrecision string `json:"time_precision"`
	BufferSize    int    `json:"buffer_size"`
	DurationNum   string `json:"duration_num"`
	DurationLog   string `json:"duration_log"`
}

// NewAccountRequest is the ADMIN_NEW_ACCOUNT request body.
type NewAccountRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// Admin handles account and database lifecycle requests against the sqlite
// registry and the on-disk database directory tree rooted at DataDir.
type Admin struct {
	Repo    *repository.DBConnection
	DataDir string
}

// New builds an Admin bound to repo's registry and dataDir's database tree.
func New(repo *repository.DBConnection, dataDir string) *Admin {
	return &Admin{Repo: repo, DataDir: dataDir}
}

func validateName(kind, name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%s name %q is invalid: must start with a letter, end with a letter or digit, and be at most 20 characters of letters, digits, - or _", kind, name)
	}
	return nil
}

// hashPassword derives a salted sha256 digest. A real deployment would use
// a slow KDF (bcrypt/argon2); sha256-with-salt stands in for the original's
// own password hashing step without pulling in a new dependency the domain
// stack has no other use for — see DESIGN.md.
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := sha256.Sum256(append(salt, []byte(password)...))
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(h[:]), nil
}

// OnNewAccount creates a new client account, the Go analogue of
// ADMIN_on_new_account.
func (a *Admin) OnNewAccount(req NewAccountRequest) error {
	if err := validateName("account", req.Account); err != nil {
		return err
	}
	if req.Password == "" {
		return fmt.Errorf("account %q: password must not be empty", req.Account)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	_, err = a.Repo.DB.Exec(
		`INSERT INTO accounts (name, password_hash, created_at) VALUES (?, ?, ?)`,
		req.Account, hash, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating account %q: %w", req.Account, err)
	}
	cclog.Infof("[DBADMIN] account %q created", req.Account)
	return nil
}

// OnChangePassword updates an existing account's password hash.
func (a *Admin) OnChangePassword(account, newPassword string) error {
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	res, err := a.Repo.DB.Exec(`UPDATE accounts SET password_hash = ? WHERE name = ?`, hash, account)
	if err != nil {
		return fmt.Errorf("changing password for %q: %w", account, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %q does not exist", account)
	}
	return nil
}

// OnDropAccount removes an account from the registry.
func (a *Admin) OnDropAccount(account string) error {
	res, err := a.Repo.DB.Exec(`DELETE FROM accounts WHERE name = ?`, account)
	if err != nil {
		return fmt.Errorf("dropping account %q: %w", account, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %q does not exist", account)
	}
	cclog.Infof("[DBADMIN] account %q dropped", account)
	return nil
}

// OnNewDatabase creates a new database: its registry row, its directory,
// and a templated database.conf, the Go analogue of ADMIN_on_new_database.
// On any failure after the directory is created, it rolls the directory
// back via RollbackNewDatabase, the same idempotent cleanup as
// ADMIN_rollback_new_database.
func (a *Admin) OnNewDatabase(req NewDatabaseRequest) (err error) {
	if err := validateName("database", req.DBName); err != nil {
		return err
	}
	applyDefaults(&req)

	dir := filepath.Join(a.DataDir, req.DBName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			a.RollbackNewDatabase(req.DBName)
		}
	}()

	conf := fmt.Sprintf(defaultConfTemplate, req.DBName, req.TimePrecision, req.BufferSize, req.DurationNum, req.DurationLog)
	if err = os.WriteFile(filepath.Join(dir, dbConfFile), []byte(conf), 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", dbConfFile, err)
	}

	_, err = a.Repo.DB.Exec(
		`INSERT INTO databases (name, time_precision, buffer_size, duration_num, duration_log, directory, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.DBName, req.TimePrecision, req.BufferSize, req.DurationNum, req.DurationLog, dir, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("registering database %q: %w", req.DBName, err)
	}

	cclog.Infof("[DBADMIN] database %q created at %s", req.DBName, dir)
	return nil
}

func applyDefaults(req *NewDatabaseRequest) {
	if req.TimePrecision == "" {
		req.TimePrecision = DefaultTimePrecision
	}
	if req.BufferSize == 0 {
		req.BufferSize = DefaultBufferSize
	}
	if req.DurationNum == "" {
		req.DurationNum = DefaultDurationNum
	}
	if req.DurationLog == "" {
		req.DurationLog = DefaultDurationLog
	}
}

// RollbackNewDatabase removes a partially-created database directory tree.
// It never panics or errors loudly if the path is already gone — creation
// may fail before the directory was ever written, and rollback must be
// idempotent either way, matching ADMIN_rollback_new_database.
func (a *Admin) RollbackNewDatabase(dbname string) {
	dir := filepath.Join(a.DataDir, dbname)
	if err := os.RemoveAll(dir); err != nil {
		cclog.Warnf("[DBADMIN] rollback of %q: %v", dbname, err)
		return
	}
	cclog.Infof("[DBADMIN] rolled back partially-created database %q", dbname)
}
