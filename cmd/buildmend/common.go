package main

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/metalagman/buildmend/internal/db"
)

const dbFileName = "buildmend.db"

// fixRoot is the tree being repaired: --root, or the working directory.
func fixRoot() (string, error) {
	if rootDir != "" {
		return filepath.Abs(rootDir)
	}
	return os.Getwd()
}

func stateDir(root string) string {
	return filepath.Join(root, stateDirName)
}

func openDB() (*sql.DB, string, func(), error) {
	repoRoot, err := fixRoot()
	if err != nil {
		return nil, "", func() {}, err
	}
	dir := stateDir(repoRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", func() {}, err
	}
	storeDB, err := db.Open(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, "", func() {}, err
	}
	return storeDB, repoRoot, func() { _ = storeDB.Close() }, nil
}
