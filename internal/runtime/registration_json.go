package runtime

import (
	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/userflow/internal/runtime/handlers"
)

// RegisterJSONHandler converts the typed JSON handler into a Watermill handler and registers it.
func RegisterJSONHandler[T any](svc *Service, cfg ListenerConfig, handler handlerpkg.JSONMessageHandler[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONHandler(handler, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{ListenerConfig: cfg, Handler: wrapped})
}
