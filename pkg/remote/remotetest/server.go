// Package remotetest runs a fake SQL-over-HTTP endpoint for tests: the same
// JSON envelope as the production service, executed against an in-memory
// SQLite database so INSERT OR IGNORE and keyed UPDATE semantics are real.
package remotetest

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

type statementResult struct {
	Results []map[string]any `json:"results"`
	Meta    struct {
		Changes int `json:"changes"`
	} `json:"meta"`
}

type response struct {
	Success bool              `json:"success"`
	Result  []statementResult `json:"result"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Server is the fake endpoint. DB is open for direct assertions.
type Server struct {
	DB  *sql.DB
	URL string

	mu         sync.Mutex
	srv        *httptest.Server
	Calls      int
	Statements []string
	// BatchSizes records how many statements each call carried.
	BatchSizes []int
}

// New starts a server; the caller owns Close.
func New() (*Server, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Server{DB: db}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = s.srv.URL
	return s, nil
}

func (s *Server) Close() {
	s.srv.Close()
	_ = s.DB.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var env struct {
		SQL    string `json:"sql"`
		Params []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stmts := splitStatements(env.SQL)
	s.mu.Lock()
	s.Calls++
	s.BatchSizes = append(s.BatchSizes, len(stmts))
	s.mu.Unlock()

	var resp response
	resp.Success = true
	for _, stmt := range stmts {
		s.mu.Lock()
		s.Statements = append(s.Statements, stmt)
		s.mu.Unlock()

		res, err := s.run(stmt, env.Params)
		if err != nil {
			resp.Success = false
			resp.Errors = append(resp.Errors, struct {
				Message string `json:"message"`
			}{Message: err.Error()})
			break
		}
		resp.Result = append(resp.Result, res)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) run(stmt string, params []any) (statementResult, error) {
	var out statementResult
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "SELECT") {
		rows, err := s.DB.Query(stmt, params...)
		if err != nil {
			return out, err
		}
		defer func() { _ = rows.Close() }()
		cols, err := rows.Columns()
		if err != nil {
			return out, err
		}
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return out, err
			}
			rowMap := make(map[string]any, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					rowMap[c] = string(b)
				} else {
					rowMap[c] = vals[i]
				}
			}
			out.Results = append(out.Results, rowMap)
		}
		return out, rows.Err()
	}

	res, err := s.DB.Exec(stmt, params...)
	if err != nil {
		return out, err
	}
	if n, err := res.RowsAffected(); err == nil {
		out.Meta.Changes = int(n)
	}
	return out, nil
}

// splitStatements breaks a multi-statement payload on statement-final
// semicolons. Batches built by this codebase join with ";\n", so splitting
// on that boundary never cuts a string literal.
func splitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";\n")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), ";"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
