// Package endpoints хранит пул точек подключения: по одному дескриптору
// host:port:username:password на строку. Имя точки выводится из позиции,
// поэтому удаление перенумеровывает все последующие точки.
package endpoints

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/magabrotheeeer/proxy-access-bot/internal/models"
	"github.com/magabrotheeeer/proxy-access-bot/internal/storage/filestore"
)

// Pool упорядоченный список дескрипторов, зеркало файла.
type Pool struct {
	mu    sync.RWMutex
	path  string
	items []string
	log   *slog.Logger
}

// New создаёт пул и сразу читает файл.
func New(ctx context.Context, path string, log *slog.Logger) (*Pool, error) {
	p := &Pool{path: path, log: log}
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Load перечитывает файл. Пустые строки пропускаются.
func (p *Pool) Load(ctx context.Context) error {
	const op = "endpoints.Load"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	data, err := os.ReadFile(p.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var items []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			items = append(items, line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	p.items = items
	p.mu.Unlock()

	p.log.Info("endpoint pool loaded", slog.Int("count", len(items)))
	return nil
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// List возвращает точки в порядке файла.
func (p *Pool) List() []models.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]models.Endpoint, len(p.items))
	for i, d := range p.items {
		result[i] = models.Endpoint{Position: i + 1, Name: models.EndpointName(i + 1), Descriptor: d}
	}
	return result
}

// At точка на позиции pos (с единицы).
func (p *Pool) At(pos int) (models.Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if pos < 1 || pos > len(p.items) {
		return models.Endpoint{}, fmt.Errorf("endpoints.At: position %d: %w", pos, models.ErrNotFound)
	}
	return models.Endpoint{Position: pos, Name: models.EndpointName(pos), Descriptor: p.items[pos-1]}, nil
}

// Get ищет точку по имени.
func (p *Pool) Get(name string) (models.Endpoint, bool) {
	for _, e := range p.List() {
		if e.Name == name {
			return e, true
		}
	}
	return models.Endpoint{}, false
}

// Names множество текущих имён, для фильтрации устаревшего избранного.
func (p *Pool) Names() map[string]struct{} {
	list := p.List()
	names := make(map[string]struct{}, len(list))
	for _, e := range list {
		names[e.Name] = struct{}{}
	}
	return names
}

// Append дописывает дескрипторы в конец и возвращает их число.
func (p *Pool) Append(ctx context.Context, descriptors ...string) (int, error) {
	const op = "endpoints.Append"
	if len(descriptors) == 0 {
		return 0, fmt.Errorf("%s: %w", op, models.NewValidationError("endpoints", "no descriptors given"))
	}
	for _, d := range descriptors {
		if err := ValidateDescriptor(d); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := append(append([]string(nil), p.items...), descriptors...)
	if err := p.persist(ctx, next); err != nil {
		return 0, &models.PersistenceError{Op: op, Err: err}
	}
	p.items = next
	return len(descriptors), nil
}

// RemoveAt удаляет точку на позиции pos, последующие сдвигаются на одну.
func (p *Pool) RemoveAt(ctx context.Context, pos int) (models.Endpoint, error) {
	const op = "endpoints.RemoveAt"

	p.mu.Lock()
	defer p.mu.Unlock()

	if pos < 1 || pos > len(p.items) {
		return models.Endpoint{}, fmt.Errorf("%s: position %d: %w", op, pos, models.ErrNotFound)
	}
	removed := models.Endpoint{Position: pos, Name: models.EndpointName(pos), Descriptor: p.items[pos-1]}

	next := make([]string, 0, len(p.items)-1)
	next = append(next, p.items[:pos-1]...)
	next = append(next, p.items[pos:]...)
	if err := p.persist(ctx, next); err != nil {
		return models.Endpoint{}, &models.PersistenceError{Op: op, Err: err}
	}
	p.items = next
	return removed, nil
}

// Clear удаляет все точки и возвращает, сколько их было.
func (p *Pool) Clear(ctx context.Context) (int, error) {
	const op = "endpoints.Clear"

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.items)
	if err := p.persist(ctx, nil); err != nil {
		return 0, &models.PersistenceError{Op: op, Err: err}
	}
	p.items = nil
	return n, nil
}

func (p *Pool) persist(ctx context.Context, items []string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	var buf bytes.Buffer
	for _, d := range items {
		buf.WriteString(d)
		buf.WriteByte('\n')
	}
	return filestore.WriteFileAtomic(p.path, buf.Bytes())
}

// ParseDescriptors разбивает текст администратора на дескрипторы:
// разделители перевод строки, запятая и пробел.
func ParseDescriptors(text string) ([]string, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, models.NewValidationError("endpoints", "no valid IPs found")
	}
	for _, f := range fields {
		if err := ValidateDescriptor(f); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// ValidateDescriptor проверяет формат host:port:username:password.
func ValidateDescriptor(d string) error {
	parts := strings.Split(d, ":")
	if len(parts) != 4 {
		return models.NewValidationError("descriptor", fmt.Sprintf("%q is not host:port:username:password", d))
	}
	if parts[0] == "" {
		return models.NewValidationError("descriptor", fmt.Sprintf("%q has empty host", d))
	}
	if port, err := strconv.Atoi(parts[1]); err != nil || port < 1 || port > 65535 {
		return models.NewValidationError("descriptor", fmt.Sprintf("%q has invalid port", d))
	}
	return nil
}
