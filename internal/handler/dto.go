package handler

import (
	"encoding/json"
	"errors"
	"fmt"

	"storybook-server/internal/models"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// --- Auth DTO ---

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// --- Wizard action DTO ---

// actionRequest — обертка действия мастера: тип плюс сырой пейлоад.
// Набор типов закрыт; неизвестный тип — ошибка 400, а не no-op.
type actionRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var errUnknownActionType = errors.New("unknown action type")

// decodeAction превращает wire-представление действия в типизированное
// models.Action. Действия жизненного цикла генерации сюда не входят:
// их диспатчит только воркер.
func decodeAction(req actionRequest) (models.Action, error) {
	unmarshal := func(v interface{}) error {
		if len(req.Payload) == 0 {
			return fmt.Errorf("action %q requires a payload", req.Type)
		}
		if err := json.Unmarshal(req.Payload, v); err != nil {
			return fmt.Errorf("invalid payload for action %q: %w", req.Type, err)
		}
		return nil
	}

	switch req.Type {
	case "set_step":
		var p struct {
			Step models.Step `json:"step"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.SetStep{Step: p.Step}, nil

	case "set_age":
		var p struct {
			Age int `json:"age"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.Age < models.MinAge || p.Age > models.MaxAge {
			return nil, fmt.Errorf("age must be between %d and %d", models.MinAge, models.MaxAge)
		}
		return models.SetAge{Age: p.Age}, nil

	case "set_author_name":
		var p struct {
			Name string `json:"name"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.SetAuthorName{Name: p.Name}, nil

	case "set_path":
		var p struct {
			Path models.StoryPath `json:"path"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		if p.Path != models.PathInteractive && p.Path != models.PathFull {
			return nil, fmt.Errorf("unknown story path %q", p.Path)
		}
		return models.SetPath{Path: p.Path}, nil

	case "set_initial_idea":
		var p struct {
			Idea models.InitialIdea `json:"idea"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.SetInitialIdea{Idea: p.Idea}, nil

	case "set_style":
		var p struct {
			Style string `json:"style"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.SetStyle{Style: p.Style}, nil

	case "set_current_page":
		var p struct {
			Index int `json:"index"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.SetCurrentPage{Index: p.Index}, nil

	case "set_active_revision":
		var p struct {
			PageID        string `json:"page_id"`
			RevisionIndex int    `json:"revision_index"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.SetActiveRevision{PageID: p.PageID, RevisionIndex: p.RevisionIndex}, nil

	case "add_dedication":
		var p struct {
			Text string `json:"text"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.AddDedication{Text: p.Text}, nil

	case "finish_book":
		return models.FinishBook{}, nil

	case "edit_book":
		return models.EditBook{}, nil

	case "load_book":
		var p struct {
			BookID string `json:"book_id"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.LoadBook{BookID: p.BookID}, nil

	case "start_capture":
		var p struct {
			Mode         models.CaptureType  `json:"mode"`
			From         models.Step         `json:"from"`
			PageID       string              `json:"page_id,omitempty"`
			RevisionType models.RevisionType `json:"revision_type,omitempty"`
		}
		if err := unmarshal(&p); err != nil {
			return nil, err
		}
		return models.StartCapture{
			Mode:         p.Mode,
			From:         p.From,
			PageID:       p.PageID,
			RevisionType: p.RevisionType,
		}, nil

	case "cancel_capture":
		return models.CancelCapture{}, nil

	case "reset":
		return models.Reset{}, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownActionType, req.Type)
}

// --- Generation trigger DTO ---

type startStoryRequest struct {
	Capture *models.CaptureData `json:"capture,omitempty"`
}

type nextPageRequest struct {
	Idea    *models.InitialIdea `json:"idea,omitempty"`
	Capture *models.CaptureData `json:"capture,omitempty"`
}

type revisePageRequest struct {
	Instruction  string              `json:"instruction,omitempty"`
	RevisionType models.RevisionType `json:"revision_type" binding:"required"`
	Capture      *models.CaptureData `json:"capture,omitempty"`
}

type reviseCoverRequest struct {
	Instruction string `json:"instruction" binding:"required"`
}

type narrationRequest struct {
	Text string `json:"text" binding:"required"`
}

type stylePreviewRequest struct {
	Style string `json:"style" binding:"required"`
}

// generationAccepted — ответ на постановку задачи генерации.
type generationAccepted struct {
	GenerationID string              `json:"generation_id"`
	State        models.SessionState `json:"state"`
}
