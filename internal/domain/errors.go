package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound: сущность отсутствует в БД или у провайдера.
	ErrNotFound = errors.New("не найдено")
	// ErrConflict: запрос противоречит уже существующим данным.
	ErrConflict = errors.New("запись уже существует")
	// ErrDuplicate: нарушение уникального ключа при конкурентной вставке.
	ErrDuplicate = errors.New("дубликат по уникальному ключу")
	// ErrValidation: некорректные входные данные.
	ErrValidation = errors.New("некорректные данные")
	// ErrNotEligible: нет опорной точки для инкрементального сбора.
	ErrNotEligible = errors.New("канал не подходит для выбранного режима сбора")
	// ErrChannelInactive: канал выключен.
	ErrChannelInactive = errors.New("канал неактивен")
	// ErrNoAccountAvailable: в пуле нет свободного аккаунта.
	ErrNoAccountAvailable = errors.New("нет доступных аккаунтов в пуле")
	// ErrCredentialRevoked: провайдер отозвал авторизацию аккаунта.
	ErrCredentialRevoked = errors.New("авторизация аккаунта отозвана")
	// ErrConnection: не удалось установить соединение с провайдером.
	ErrConnection = errors.New("ошибка соединения с провайдером")
	// ErrMalformedAnalysis: анализатор вернул некорректный ответ.
	ErrMalformedAnalysis = errors.New("некорректный ответ анализатора")
	// ErrAnalysisRejected: провайдер анализа отклонил запрос, повтор не поможет.
	ErrAnalysisRejected = errors.New("провайдер анализа отклонил запрос")
	// ErrHardTimeout: задача превысила жёсткий лимит времени.
	ErrHardTimeout = errors.New("превышен жёсткий лимит времени задачи")
)

// FloodWaitError сообщает, что провайдер просит подождать перед следующим запросом.
type FloodWaitError struct {
	Delay time.Duration
	Err   error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s", e.Delay)
}

func (e *FloodWaitError) Unwrap() error {
	return e.Err
}

// AsFloodWait извлекает задержку из цепочки ошибок.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Delay, true
	}
	return 0, false
}

// MissingPostsError перечисляет идентификаторы постов, которых нет в БД.
type MissingPostsError struct {
	IDs []int64
}

func (e *MissingPostsError) Error() string {
	parts := make([]string, 0, len(e.IDs))
	for _, id := range e.IDs {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "посты не найдены: " + strings.Join(parts, ", ")
}

func (e *MissingPostsError) Is(target error) bool {
	return target == ErrNotFound
}
