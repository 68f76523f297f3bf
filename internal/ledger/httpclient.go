package ledger

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// HTTPClient — клиент внешнего реестра по HTTP.
//
//	POST {base}/api/v1/entries                     — отправка записи
//	GET  {base}/api/v1/records/{recordId}/entries  — история записи
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger     *slog.Logger
}

var _ Ledger = (*HTTPClient)(nil)

// NewHTTPClient создаёт клиент реестра.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// token — статический bearer-токен (пустая строка — без авторизации).
func NewHTTPClient(baseURL, caCertPath, token string, timeout time.Duration, logger *slog.Logger) (*HTTPClient, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата реестра: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат реестра добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger.With(slog.String("component", "ledger_client")),
	}, nil
}

// BaseURL возвращает базовый URL реестра.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Submit отправляет запись в реестр.
func (c *HTTPClient) Submit(ctx context.Context, e Entry) (Receipt, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return Receipt{}, fmt.Errorf("сериализация записи реестра: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/entries", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("создание запроса Submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: запрос к %s: %v", ErrUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	// 409 — запись с этим ID уже принята ранее
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Receipt{}, fmt.Errorf("реестр вернул статус %d для %s: %s", resp.StatusCode, e.ID, string(respBody))
	}

	var receipt Receipt
	if resp.StatusCode != http.StatusConflict {
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			return Receipt{}, fmt.Errorf("декодирование ответа реестра: %w", err)
		}
	}

	c.logger.Debug("Запись отправлена в реестр",
		slog.String("entry_id", e.ID),
		slog.String("reference", receipt.Reference),
	)
	return receipt, nil
}

// History запрашивает записи реестра по записи.
func (c *HTTPClient) History(ctx context.Context, recordID string) ([]Entry, error) {
	reqURL := fmt.Sprintf("%s/api/v1/records/%s/entries", c.baseURL, url.PathEscape(recordID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса History: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("%w: запрос к %s: %v", ErrUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []Entry{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("реестр вернул статус %d для записи %s: %s", resp.StatusCode, recordID, string(body))
	}

	var result struct {
		Items []Entry `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("декодирование истории реестра: %w", err)
	}
	if result.Items == nil {
		result.Items = []Entry{}
	}
	return result.Items, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
