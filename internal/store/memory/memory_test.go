package memory

import (
	"testing"

	"github.com/docspark/api/internal/store"
	"github.com/docspark/api/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
