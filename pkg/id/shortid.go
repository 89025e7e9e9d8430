package id

import (
	"time"

	shortid "github.com/ventu-io/go-shortid"
)

// Gen issues short unique identifiers for pledges and settlements.
type Gen struct {
	sid *shortid.Shortid
}

func NewGen() (Gen, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return Gen{}, err
	}

	return Gen{sid}, nil
}

func (g Gen) Generate() (string, error) {
	return g.sid.Generate()
}
