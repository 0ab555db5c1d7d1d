package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestTranslateErr(t *testing.T) {
	assert.NoError(t, translateErr(nil))
	assert.ErrorIs(t, translateErr(mongo.ErrNoDocuments), ErrNotFound)

	plain := errors.New("network down")
	assert.Equal(t, plain, translateErr(plain))
}

func TestTranslateErr_DuplicateKey(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	assert.ErrorIs(t, translateErr(dup), ErrDuplicate)
}
