package service

import (
	"strings"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

const pathSeparator = "."

// splitFieldPath разбирает путь вида "shipment.tracking_number".
// Первый сегмент не может указывать на поле, которым управляет синхронизатор.
func splitFieldPath(path string) ([]string, error) {
	if path == "" {
		return nil, apperror.MalformedState("пустой путь поля")
	}
	segments := strings.Split(path, pathSeparator)
	for _, seg := range segments {
		if seg == "" {
			return nil, apperror.MalformedState("некорректный путь поля %q", path)
		}
	}
	if models.IsReservedOrderKey(segments[0]) {
		return nil, apperror.MalformedState("поле %q управляется синхронизатором", segments[0])
	}
	return segments, nil
}

// parentMap спускается по пути, создавая промежуточные объекты.
func parentMap(doc map[string]any, path string, segments []string) (map[string]any, error) {
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, exists := current[seg]
		if !exists || next == nil {
			child := make(map[string]any)
			current[seg] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, apperror.MalformedState("поле %q в пути %q не является объектом", seg, path)
		}
		current = child
	}
	return current, nil
}

// setFieldPath присваивает значение по пути. Возвращает прежнее значение
// и признак того, что документ действительно изменился.
func setFieldPath(doc map[string]any, path string, value any) (any, bool, error) {
	segments, err := splitFieldPath(path)
	if err != nil {
		return nil, false, err
	}
	parent, err := parentMap(doc, path, segments)
	if err != nil {
		return nil, false, err
	}

	leaf := segments[len(segments)-1]
	old, exists := parent[leaf]
	if exists && models.JSONEqual(old, value) {
		return old, false, nil
	}
	parent[leaf] = value
	return old, true, nil
}

// pushFieldPath дописывает значение в последовательность по пути,
// создавая её при отсутствии. Возвращает новую длину.
func pushFieldPath(doc map[string]any, path string, value any) (int, error) {
	segments, err := splitFieldPath(path)
	if err != nil {
		return 0, err
	}
	parent, err := parentMap(doc, path, segments)
	if err != nil {
		return 0, err
	}

	leaf := segments[len(segments)-1]
	var seq []any
	switch existing := parent[leaf].(type) {
	case nil:
	case []any:
		seq = existing
	default:
		return 0, apperror.MalformedState("поле %q не является последовательностью", path)
	}
	seq = append(seq, value)
	parent[leaf] = seq
	return len(seq), nil
}
