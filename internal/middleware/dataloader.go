package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/fieldsync/internal/entityloader"
	"github.com/rpattn/fieldsync/internal/repository"
)

type ctxKey string

const entityLoaderKey ctxKey = "entityLoader"

// DataLoaderMiddleware attaches a per-request entity loader to the context
func DataLoaderMiddleware(repo repository.EntityRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.NewEntityLoader(repo)
			ctx := context.WithValue(r.Context(), entityLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EntityLoaderFromContext retrieves the loader, or nil outside a request
func EntityLoaderFromContext(ctx context.Context) *entityloader.EntityLoader {
	if l, ok := ctx.Value(entityLoaderKey).(*entityloader.EntityLoader); ok {
		return l
	}
	return nil
}
