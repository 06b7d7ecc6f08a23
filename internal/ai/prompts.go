package ai

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"storybook-server/internal/models"
)

// Бюджет токенов на пересказ истории в промте. Старые страницы
// отбрасываются первыми, чтобы уложиться в контекст модели.
const storyContextTokenBudget = 3000

// Энкодинг для подсчета токенов при обрезке контекста.
const tokenEncoding = "cl100k_base"

// ageAppropriateInstructions возвращает возрастные правила для текста и
// иллюстраций. Три ступени: 4-5, 6-7 и 8-9 лет.
func ageAppropriateInstructions(age int) string {
	if age <= 5 {
		return `
      - Vocabulary and sentences must be extremely simple. Use basic words, repetitive phrases, and short sentences (5-7 words) with a clear subject-verb-object structure. Example: "The bear is happy. He eats honey."
      - Narrative should be linear and predictable.
      - Illustrator prompts should describe simple scenes with one or two characters, clear emotions, and uncluttered backgrounds.
    `
	}
	if age <= 7 {
		return `
      - Use slightly more descriptive language and compound sentences (around 10-15 words). Pages can have 2-3 sentences.
      - Introduce simple dialogue and basic cause-and-effect.
      - Narrative can have simple, positive events or challenges.
      - Illustrator prompts can include more background details and simple character interactions.
    `
	}
	// Ages 8-9
	return `
      - Use more complex sentences with conjunctions (like 'and', 'but', 'because').
      - Use creative descriptors, simple metaphors, and a more developed vocabulary.
      - Narrative can include small surprises, simple plot points, and character thoughts or feelings.
      - Illustrator prompts can describe more dynamic scenes with multiple elements, side characters, and more detailed environments.
    `
}

// styleDirective оборачивает сценический промт обязательной инструкцией
// о визуальном стиле.
func styleDirective(style, scenePrompt string) string {
	return fmt.Sprintf(`The required visual style is strictly: "%s". This is the most important instruction. Generate a child-friendly and vibrant illustration for the following scene: %s`, style, scenePrompt)
}

// mimicDrawingStyle подменяет стиль, когда страница сгенерирована из
// детского рисунка с включенным mimicStyle.
func mimicDrawingStyle(capture *models.CaptureData, style string) string {
	if capture != nil && capture.Type == models.CaptureDrawing && capture.MimicStyle {
		return "Mimic the simple, charming style of the provided child's drawing."
	}
	return style
}

// storySoFar собирает текст активных ревизий всех страниц книги и при
// необходимости обрезает его под токен-бюджет, жертвуя началом истории.
func storySoFar(book *models.Book) string {
	lines := make([]string, 0, len(book.Pages))
	for i := range book.Pages {
		if rev, ok := book.Pages[i].CurrentRevision(); ok {
			lines = append(lines, rev.Text)
		}
	}
	return trimToTokenBudget(lines, storyContextTokenBudget)
}

// trimToTokenBudget отбрасывает строки с начала, пока суммарный размер
// не уложится в бюджет. Если токенизатор недоступен, возвращает все как есть.
func trimToTokenBudget(lines []string, budget int) string {
	joined := strings.Join(lines, "\n")
	tke, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return joined
	}
	for len(lines) > 1 && len(tke.Encode(joined, nil, nil)) > budget {
		lines = lines[1:]
		joined = strings.Join(lines, "\n")
	}
	return joined
}

func startPrompt(ideaText string, age int) string {
	if ideaText == "" {
		ideaText = "a story about a brave little bear"
	}
	return fmt.Sprintf(`
      You are an expert children's book author. Your task is to generate content for a storybook for a %d-year-old child.
      Follow these age-specific guidelines strictly:
      %s

      The user's story idea is: "%s".

      Based on the idea and the age guidelines, generate:
      1. A short, simple, and magical story title.
      2. A 1-line subtitle.
      3. A brief description of the main characters.
      4. The text for the very first page.

      Respond with a single JSON object: {"title": "...", "subtitle": "...", "characters": "...", "firstPageText": "..."}.
    `, age, ageAppropriateInstructions(age), ideaText)
}

func fullBookPrompt(ideaText string, age int) string {
	if ideaText == "" {
		ideaText = "a story about a brave little bear"
	}
	return fmt.Sprintf(`
        You are an expert children's book author creating a complete 6-12 page illustrated storybook for a %d-year-old child.
        Follow these age-specific guidelines strictly for ALL parts of the book (text and image prompts):
        %s

        The user's story idea is: "%s".

        Based on the idea and the age guidelines, provide:
        1. The book title.
        2. A 1-line subtitle.
        3. A brief description of the main characters.
        4. For each of the pages, provide:
            - "pageText": The text for the page.
            - "imagePrompt": A detailed prompt for an illustrator that matches the text and follows the age-specific visual guidelines. The prompts should describe the scene and characters clearly to maintain consistency. These prompts MUST NOT contain instructions to write text.

        Respond with a single JSON object: {"title": "...", "subtitle": "...", "characters": "...", "pages": [{"pageText": "...", "imagePrompt": "..."}]}.
    `, age, ageAppropriateInstructions(age), ideaText)
}

func nextPagePrompt(book *models.Book, ideaText string, age int) string {
	ideaLine := "Continue the story creatively."
	if ideaText != "" {
		ideaLine = fmt.Sprintf(`The user wants this to happen next: "%s".`, ideaText)
	}
	return fmt.Sprintf(`
        You are an expert children's book author continuing a story for a %d-year-old child.
        Follow these age-specific guidelines strictly:
        %s

        Here is the story so far:
        "%s"

        The main characters are: %s.
        %s

        Based on this, continue the story with the very next scene. Provide:
        - "nextPageText": The text for this new page.
        - "imagePrompt": A detailed prompt for an illustrator that follows the age-specific visual guidelines. This prompt must not instruct the illustrator to add text.

        Respond with a single JSON object: {"nextPageText": "...", "imagePrompt": "..."}.
    `, age, ageAppropriateInstructions(age), storySoFar(book), book.Characters, ideaLine)
}

func endingPrompt(book *models.Book, age int) string {
	return fmt.Sprintf(`
        You are an expert children's book author writing the final page of a story for a %d-year-old child.
        Follow these age-specific guidelines strictly:
        %s

        Here is the story so far:
        "%s"

        The main characters are: %s.

        Now, write a short and happy final paragraph to conclude the story. Provide:
        - "finalPageText": The text for this final page.
        - "imagePrompt": A detailed prompt for an illustrator for the concluding scene, following the age-specific visual guidelines. This prompt must not instruct the illustrator to add text.

        Respond with a single JSON object: {"finalPageText": "...", "imagePrompt": "..."}.
    `, age, ageAppropriateInstructions(age), storySoFar(book), book.Characters)
}

func textRevisionPrompt(currentText, instruction string, age int) string {
	return fmt.Sprintf(`
            You are an expert children's book author rewriting a story paragraph for a %d-year-old child.
            Follow these age-specific guidelines strictly:
            %s

            Original Text: "%s"
            User's Instruction: "%s"

            Your response must ONLY be the rewritten story text, adhering to the age guidelines.
        `, age, ageAppropriateInstructions(age), currentText, instruction)
}

func coverPrompt(title, characters, ideaText string, age int) string {
	storyIdea := ""
	if ideaText != "" {
		storyIdea = fmt.Sprintf(` The story is about: "%s".`, ideaText)
	}
	return fmt.Sprintf(`A beautiful illustration for the cover of a children's book. The book title is "%s". This title text MUST be written clearly and creatively on the image. The scene should visually represent the story's theme and feature the main characters: %s.%s The visual style should be appropriate for a %d-year-old.`, title, characters, storyIdea, age)
}

func coverRevisionPrompt(book *models.Book, instruction string) string {
	return fmt.Sprintf(`The user wants to revise the book cover. Their instruction is: "%s". The book is titled "%s" and the author is "%s". The title and author MUST be written on the image. The characters are: %s. The visual complexity must be appropriate for a %d-year-old. Follow these guidelines: %s. Maintain a consistent art style and character design with the rest of the book.`, instruction, book.Title, book.Author, book.Characters, book.Age, ageAppropriateInstructions(book.Age))
}

func firstPageImagePrompt(firstPageText, characters string, age int) string {
	return fmt.Sprintf(`An illustration for the very first page of a story, which must be different from the cover. The scene is: "%s". The characters are: %s. Maintain the same art style and character design as the cover. The visual complexity must be appropriate for a %d-year-old. IMPORTANT: Do NOT include any text, letters, or words in this image.`, firstPageText, characters, age)
}

const consistencyDirective = " Maintain the same art style and character design as the rest of the book. IMPORTANT: Do not add any text, letters, or words to the image."

func pageImagePrompt(imagePrompt, characters string) string {
	return fmt.Sprintf("%s The characters are: %s.%s", imagePrompt, characters, consistencyDirective)
}

// captureInterpretationSystemPrompt строит промт интерпретации захвата:
// рисунок, видео или голос ребенка превращаются в текст страницы и промт
// для иллюстратора.
func captureInterpretationSystemPrompt(capture *models.CaptureData, age int, contextPrompt string) string {
	userTextPrompt := "The user did not provide a text prompt, so interpret the media directly."
	if capture.Text != "" {
		userTextPrompt = fmt.Sprintf(`The user's primary instruction is this text: "%s". This text should be the main guide for the story.`, capture.Text)
	}

	var body string
	switch capture.Type {
	case models.CaptureDrawing:
		body = fmt.Sprintf(`
              %s
              The user also provided this drawing as visual inspiration.
              Your task is to write a story page for a %d-year-old that combines the user's text with the visual elements from the drawing.
              Also create a detailed illustrator prompt that merges the text idea with the drawing's content.
              %s`, userTextPrompt, age, contextPrompt)
	case models.CaptureVideo:
		transcript := capture.Transcript
		if transcript == "" {
			transcript = "No speech detected."
		}
		body = fmt.Sprintf(`
              %s
              The user also acted out the story in a video, from which this is a keyframe.
              During the video, the user said: "%s".
              Combine the user's text, the visual action, and their speech to write a story page for a %d-year-old.
              Create a detailed illustrator prompt based on the fusion of these ideas.
              %s`, userTextPrompt, transcript, age, contextPrompt)
	case models.CaptureAudio:
		body = fmt.Sprintf(`
              %s
              The user also narrated this part of the story: "%s".
              Synthesize both the text prompt and the narration to write a story page for a %d-year-old.
              Create a detailed illustrator prompt based on this combination.
              %s`, userTextPrompt, capture.Transcript, age, contextPrompt)
	}

	return body + `

        Respond with a single JSON object: {"title": "...", "subtitle": "...", "characters": "...", "pageText": "...", "imagePrompt": "..."}. Omit title, subtitle and characters unless asked for them in the context.`
}

// safeVideoPrompt — промт "стража безопасности": переписывает текст
// страницы в гарантированно безопасный визуальный промт для видеомодели.
func safeVideoPrompt(pageText string) string {
	return fmt.Sprintf(`
        You are an AI Safety Guard. Your only job is to rewrite a story sentence into an ultra-safe, simple, positive, and child-friendly visual prompt for a video AI. You must be extremely cautious. Failure to follow these rules will result in a failed video.

        **NON-NEGOTIABLE RULES:**

        1.  **ABSOLUTE POSITIVITY:** The output MUST be gentle, happy, and describe a single, clear, positive action. There can be NO conflict, NO sadness, NO fear, NO danger, not even implied.
        2.  **MANDATORY WORD REPLACEMENT (NO EXCEPTIONS - THIS IS CRITICAL):**
            *   "fight", "battle", "attack", "hit", "scary", "afraid", "danger", "chase", "mean" -> "playful dance", "happy game", "silly wiggle", "gentle tag"
            *   "cried", "sad", "lost", "alone", "dark", "night", "storm", "scared" -> "giggling", "thinking", "exploring", "on a fun adventure", "sparkling", "starry sky", "gentle rain"
            *   "monster", "dragon", "ghost", "villain" -> "big fluffy friend", "glowing magical pal", "silly flying creature", "playful character"
            *   "fire", "burning", "explode", "crash", "fall" -> "warm glowing light", "colorful sparkles", "magical poof", "gentle landing"
            *   "problem", "secret", "bad", "wrong", "trick" -> "fun puzzle", "happy surprise", "silly", "different", "fun game"
        3.  **STRICT OUTPUT FORMAT:**
            *   Your entire response must be ONLY the rewritten prompt. No preamble.
            *   It must be a single, short sentence. (e.g., "A fluffy creature is dancing under a starry sky.")
            *   It must describe a simple, visual action. (e.g., "A character is jumping on a soft cloud.")
            *   It must be literal and concrete. NO metaphors. NO abstract ideas.

        **Your Task:**
        Rewrite the following text into a safe visual prompt, following all rules perfectly. Original Text: "%s"
    `, pageText)
}

func videoScenePrompt(book *models.Book, pageText, safeDescription string) string {
	return fmt.Sprintf(`
        An animated video scene for a children's story, in the style of "%s".
        The scene is for a %d-year-old.
        The animation should be magical, vibrant, and child-friendly, matching the reference image.
        The video MUST include a voiceover of a friendly narrator reading the following text aloud: "%s"
        Animate this scene: "%s".
    `, book.Style, book.Age, pageText, safeDescription)
}
