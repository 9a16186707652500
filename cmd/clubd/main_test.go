package main

import "testing"

func TestResolveDriver(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name       string
		dsn        string
		wantDriver string
		wantPath   string
		wantError  bool
	}{
		{name: "postgres scheme", dsn: "postgres://club:secret@db:5432/club", wantDriver: driverPostgres},
		{name: "postgresql scheme", dsn: "postgresql://club:secret@db:5432/club", wantDriver: driverPostgres},
		{name: "sqlite absolute path", dsn: "sqlite:///tmp/clubcore.db", wantDriver: driverSQLite, wantPath: "/tmp/clubcore.db"},
		{name: "sqlite relative path", dsn: "sqlite://data/clubcore.db", wantDriver: driverSQLite, wantPath: "data/clubcore.db"},
		{name: "sqlite missing path", dsn: "sqlite://", wantError: true},
		{name: "unsupported scheme", dsn: "mysql://club@db/club", wantError: true},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			driver, path, err := resolveDriver(testCase.dsn)
			if testCase.wantError {
				if err == nil {
					test.Fatalf("expected error for %q, got driver %q", testCase.dsn, driver)
				}
				return
			}
			if err != nil {
				test.Fatalf("resolveDriver(%q): %v", testCase.dsn, err)
			}
			if driver != testCase.wantDriver {
				test.Fatalf("driver = %q, want %q", driver, testCase.wantDriver)
			}
			if path != testCase.wantPath {
				test.Fatalf("sqlite path = %q, want %q", path, testCase.wantPath)
			}
		})
	}
}
