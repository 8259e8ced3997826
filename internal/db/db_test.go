package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/jobchat/internal/config"
	"github.com/zulandar/jobchat/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{User: "root", Host: "127.0.0.1", Port: 3306, Name: "jobchat"},
			want: "root@tcp(127.0.0.1:3306)/jobchat?parseTime=true",
		},
		{
			name: "custom host and password",
			cfg:  config.DatabaseConfig{User: "chat", Password: "pw", Host: "10.0.0.5", Port: 3307, Name: "jobchat_prod"},
			want: "chat:pw@tcp(10.0.0.5:3307)/jobchat_prod?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_ParseTimeFlag(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{User: "root", Host: "localhost", Port: 3306, Name: "test"})
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN missing parseTime=true: %s", dsn)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), `unsupported driver "postgres"`) {
		t.Errorf("error = %q", err.Error())
	}
}

func TestOpen_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	gormDB, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestAllModels(t *testing.T) {
	if got := len(AllModels()); got != 2 {
		t.Errorf("len(AllModels()) = %d, want 2", got)
	}
}

func TestOpenMemory_Isolated(t *testing.T) {
	a, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	b, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	a.Create(&models.User{ID: "u1", Role: "seeker"})

	var count int64
	b.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Errorf("second memory db sees %d users, want 0", count)
	}
}

func TestSeedUsers_Upsert(t *testing.T) {
	gormDB, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}

	users := []config.UserConfig{
		{ID: "u1", Name: "Alice", Role: "seeker"},
		{ID: "u2", Name: "Acme", Role: "poster"},
	}
	if err := SeedUsers(gormDB, users); err != nil {
		t.Fatalf("SeedUsers: %v", err)
	}

	users[0].Name = "Alice Smith"
	if err := SeedUsers(gormDB, users); err != nil {
		t.Fatalf("SeedUsers (second run): %v", err)
	}

	var count int64
	gormDB.Model(&models.User{}).Count(&count)
	if count != 2 {
		t.Errorf("user count = %d, want 2", count)
	}
	var u models.User
	if err := gormDB.First(&u, "id = ?", "u1").Error; err != nil {
		t.Fatalf("load u1: %v", err)
	}
	if u.Name != "Alice Smith" {
		t.Errorf("u1.Name = %q, want updated name", u.Name)
	}
}

func TestCreateDatabase_SQLiteNoop(t *testing.T) {
	if err := CreateDatabase(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}); err != nil {
		t.Errorf("CreateDatabase(sqlite) = %v, want nil", err)
	}
}

func TestDSN_NoDatabase(t *testing.T) {
	got := DSN(config.DatabaseConfig{User: "root", Host: "127.0.0.1", Port: 3306})
	if got != "root@tcp(127.0.0.1:3306)/?parseTime=true" {
		t.Errorf("DSN() = %q", got)
	}
}
