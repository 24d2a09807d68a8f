package shared

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

var testDbCounter uint64

// NewTestDbInstance opens a fresh in-memory sqlite database. Each call gets
// its own schema so suites never leak state into each other; callers are
// expected to run the store schema bootstrap before use.
func NewTestDbInstance(verbose bool, logger ...interface {
	Print(v ...interface{})
}) *gorm.DB {
	n := atomic.AddUint64(&testDbCounter, 1)
	db, err := gorm.Open("sqlite3", fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", n))
	if err != nil {
		panic(err)
	}
	// A single connection keeps every query on the same in-memory database.
	db.DB().SetMaxOpenConns(1)
	db.LogMode(verbose)
	if len(logger) > 0 {
		db.SetLogger(logger[0])
	}
	return db
}

const TestApiSecret = "test-secret"

// NewTestToken issues a bearer token the authentication middleware accepts,
// signed with TestApiSecret.
func NewTestToken(userId, role, institutionId string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            userId,
		"role":           role,
		"institution_id": institutionId,
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(TestApiSecret))
	if err != nil {
		panic(err)
	}
	return signed
}
