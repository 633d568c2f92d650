package database

import (
	"context"
	"path/filepath"
	"time"

	"github.com/kebairia/sitebackup/internal/backup"
	"github.com/kebairia/sitebackup/internal/logger"
	"github.com/kebairia/sitebackup/internal/runner"
)

const (
	mysqlEngine = "mysql"

	DefaultHost     = "localhost"
	DefaultUsername = "root"
)

// MySQLOption lets you override default settings on a MySQL.
type MySQLOption func(*MySQL)

// MySQL holds what is needed to dump one MySQL source with mysqldump.
type MySQL struct {
	Name     string
	Username string
	Password string
	Database string
	Host     string
	// Touch is the maintenance flag raised for the duration of the dump.
	Touch  string
	Runner runner.Runner
	Logger logger.Logger
}

// NewMySQL returns a MySQL with localhost/root defaults plus any overrides.
func NewMySQL(name string, run runner.Runner, log logger.Logger, opts ...MySQLOption) *MySQL {
	if log == nil {
		log = logger.Nop()
	}
	m := &MySQL{
		Name:     name,
		Host:     DefaultHost,
		Username: DefaultUsername,
		Runner:   run,
		Logger:   log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMySQLCredentials sets username and password. Empty values keep the
// current setting.
func WithMySQLCredentials(user, pass string) MySQLOption {
	return func(m *MySQL) {
		if user != "" {
			m.Username = user
		}
		if pass != "" {
			m.Password = pass
		}
	}
}

// WithMySQLHost overrides the host.
func WithMySQLHost(host string) MySQLOption {
	return func(m *MySQL) {
		if host != "" {
			m.Host = host
		}
	}
}

// WithMySQLDatabase sets the schema to dump. Without it every database is
// dumped.
func WithMySQLDatabase(db string) MySQLOption {
	return func(m *MySQL) {
		if db != "" {
			m.Database = db
		}
	}
}

// WithMySQLTouch sets the maintenance flag path.
func WithMySQLTouch(path string) MySQLOption {
	return func(m *MySQL) {
		m.Touch = path
	}
}

// Command builds the mysqldump invocation writing into outPath.
func (m *MySQL) Command(outPath string) runner.Command {
	args := []string{"--routines", "-h", m.Host, "-u", m.Username}
	if m.Password != "" {
		args = append(args, "-p"+m.Password)
	}
	if m.Database != "" {
		args = append(args, m.Database)
	} else {
		args = append(args, "--all-databases")
	}
	return runner.Command{
		Name:      "mysqldump",
		Args:      args,
		Stdout:    outPath,
		Sensitive: []string{m.Password},
	}
}

// Dump runs mysqldump into destDir/<name>.sql. The maintenance flag, when
// configured, is raised just before and lowered on every way out, panics
// included, before any dump failure is reported.
func (m *MySQL) Dump(ctx context.Context, destDir string) (path string, err error) {
	path = filepath.Join(destDir, m.Name+".sql")
	cmd := m.Command(path)

	flag, err := RaiseFlag(m.Touch)
	if err != nil {
		return "", &backup.StageExecutionError{Stage: backup.StageDump, Source: m.Name, Command: cmd.String(), Cause: err}
	}
	defer func() {
		if lerr := flag.Lower(); lerr != nil {
			m.Logger.Error("maintenance flag left behind", "database", m.Name, "flag", m.Touch, "error", lerr)
			if err == nil {
				err = &backup.StageExecutionError{Stage: backup.StageDump, Source: m.Name, Cause: lerr}
			}
		}
	}()

	m.Logger.Info("backup started",
		"database", m.Name,
		"engine", mysqlEngine,
		"host", m.Host,
		"path", path,
	)
	start := time.Now()
	res := m.Runner.Run(ctx, cmd)
	if !res.Success {
		m.Logger.Error("backup failed",
			"database", m.Name,
			"engine", mysqlEngine,
			"timed_out", res.TimedOut,
			"error", res.Err,
		)
		return "", &backup.StageExecutionError{
			Stage:      backup.StageDump,
			Source:     m.Name,
			Command:    cmd.String(),
			Diagnostic: res.Stderr,
			Cause:      res.Err,
		}
	}
	m.Logger.Info("backup completed", "database", m.Name, "duration", time.Since(start).String())

	return path, nil
}
