package task

import (
	"errors"
	"fmt"

	"github.com/phrazzld/pantry-api/internal/domain"
)

var (
	// ErrInvalidSelection is returned when a submitted ingredient selection
	// is empty, too large, or contains duplicate or blank IDs.
	ErrInvalidSelection = fmt.Errorf("%w: invalid ingredient selection", domain.ErrValidation)

	ErrNilStore     = errors.New("task store cannot be nil")
	ErrNilPublisher = errors.New("queue publisher cannot be nil")
	ErrNilReceiver  = errors.New("queue receiver cannot be nil")
	ErrNilCatalog   = errors.New("ingredient catalog cannot be nil")
	ErrNilHandler   = errors.New("message handler cannot be nil")
)
