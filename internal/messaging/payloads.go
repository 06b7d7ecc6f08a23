package messaging

import (
	"storybook-server/internal/models"
)

// TaskType определяет вид задачи генерации.
type TaskType string

const (
	TaskTypeStoryStart    TaskType = "story_start"    // Начало интерактивной истории: метаданные, обложка, первая страница
	TaskTypeFullBook      TaskType = "full_book"      // Генерация книги целиком
	TaskTypeNextPage      TaskType = "next_page"      // Следующая страница истории
	TaskTypeEnding        TaskType = "ending"         // Финальная страница
	TaskTypePageRevision  TaskType = "page_revision"  // Новая ревизия страницы
	TaskTypeCoverRevision TaskType = "cover_revision" // Перерисовка обложки
	TaskTypePageVideo     TaskType = "page_video"     // Анимированная сцена для страницы
)

// IsValidTaskType проверяет, является ли строка допустимым TaskType.
func IsValidTaskType(tt TaskType) bool {
	switch tt {
	case TaskTypeStoryStart, TaskTypeFullBook, TaskTypeNextPage, TaskTypeEnding,
		TaskTypePageRevision, TaskTypeCoverRevision, TaskTypePageVideo:
		return true
	default:
		return false
	}
}

// GenerationTaskPayload - структура сообщения для задачи генерации.
// TaskID совпадает с id генерации в состоянии сессии: по нему редьюсер
// отбрасывает устаревшие результаты, а трекер задач позволяет отменять их.
type GenerationTaskPayload struct {
	TaskID       string              `json:"taskId"`
	UserID       string              `json:"userId"`
	TaskType     TaskType            `json:"taskType"`
	Age          int                 `json:"age,omitempty"`
	Style        string              `json:"style,omitempty"`
	Idea         *models.InitialIdea `json:"idea,omitempty"`
	PageID       string              `json:"pageId,omitempty"`
	Instruction  string              `json:"instruction,omitempty"`
	RevisionType models.RevisionType `json:"revisionType,omitempty"`
	Capture      *models.CaptureData `json:"capture,omitempty"`
}
