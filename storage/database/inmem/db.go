// Package inmemdb implements the repositories in process memory, for local runs and tests.
package inmemdb

import (
	"sync"

	"github.com/trezcool/chuo/core/coursework"
	"github.com/trezcool/chuo/core/user"
)

type (
	DB struct {
		user       *userTable
		material   *materialTable
		assignment *assignmentTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	materialTable struct {
		sync.RWMutex
		table map[string]*coursework.Material
	}

	assignmentTable struct {
		sync.RWMutex
		table map[string]*coursework.Assignment
	}
)

func Open() *DB {
	return &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		material:   &materialTable{table: make(map[string]*coursework.Material)},
		assignment: &assignmentTable{table: make(map[string]*coursework.Assignment)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.material.Lock()
	db.material.table = make(map[string]*coursework.Material)
	db.material.Unlock()

	db.assignment.Lock()
	db.assignment.table = make(map[string]*coursework.Assignment)
	db.assignment.Unlock()
}
