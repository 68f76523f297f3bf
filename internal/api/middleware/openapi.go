// openapi.go — валидация входящих запросов по OpenAPI-контракту.
// Проверяются параметры пути и запроса и тело. Маршруты вне контракта
// пропускаются: их обрабатывает chi (404/405).
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/goartstore/record-module/internal/api/errors"
)

// OpenAPIValidator — middleware валидации запросов.
type OpenAPIValidator struct {
	router      routers.Router
	maxBodySize int64
	logger      *slog.Logger
}

// NewOpenAPIValidator создаёт валидатор по загруженному контракту.
// maxBodySize ограничивает тело запроса (0 — без ограничения).
func NewOpenAPIValidator(doc *openapi3.T, maxBodySize int64, logger *slog.Logger) (*OpenAPIValidator, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("построение маршрутов OpenAPI: %w", err)
	}
	return &OpenAPIValidator{
		router:      router,
		maxBodySize: maxBodySize,
		logger:      logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware валидации.
// Аутентификация здесь не проверяется: этим занимается JWTAuth.
func (v *OpenAPIValidator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if v.maxBodySize > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, v.maxBodySize)
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					apierrors.PayloadTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", v.maxBodySize))
					return
				}
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage сокращает ошибку kin-openapi до первой причины.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("Некорректный параметр %q: %v", reqErr.Parameter.Name, reqErr.Err)
		}
		if reqErr.RequestBody != nil {
			return fmt.Sprintf("Некорректное тело запроса: %v", reqErr.Err)
		}
		return reqErr.Error()
	}
	return err.Error()
}
