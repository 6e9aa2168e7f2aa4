package repository

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestLoadEnvironmentVariables_DecryptsValues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	box, _ := NewSecretBox("master-key")
	salt, ciphertext, err := box.Seal([]byte("sk-live-123"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	mock.ExpectQuery(`SELECT name, salt, ciphertext FROM environment_variables`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"name", "salt", "ciphertext"}).
			AddRow("OPENAI_API_KEY", salt, ciphertext))

	repo := NewEnvVarRepository(mock, box)
	vars, err := repo.LoadEnvironmentVariables(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("LoadEnvironmentVariables failed: %v", err)
	}
	if vars["OPENAI_API_KEY"] != "sk-live-123" {
		t.Errorf("decrypted value = %q", vars["OPENAI_API_KEY"])
	}
}

func TestSaveEnvironmentVariable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO environment_variables`).
		WithArgs("user-1", "TOKEN", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	box, _ := NewSecretBox("master-key")
	repo := NewEnvVarRepository(mock, box)
	if err := repo.SaveEnvironmentVariable(context.Background(), "user-1", "TOKEN", "value"); err != nil {
		t.Errorf("SaveEnvironmentVariable failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
