package ai

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// SessionStartedInput is the synthetic user turn that asks the assistant
// for its opening message.
const SessionStartedInput = "[SYSTEM] Session started"

const negotiationSystemPrompt = `Eres un asistente virtual especializado en negociación financiera para una institución de crédito.
Datos del cliente actual:
- Deuda total: ${amount_owed}
- Días en mora: {days_in_mora}

Tu objetivo es ayudar a regularizar pagos considerando estos números específicos. Ofrece:
1. Opciones basadas en el monto y días de mora
2. Cálculos aproximados usando estos valores
3. Referencia a políticas institucionales

Contexto histórico (solo como ejemplos):
{context}`

const negotiationReminderPrompt = "Recuerda: Actualiza tus respuestas según los datos más recientes. Deuda actual: ${amount_owed} | Días mora: {days_in_mora}"

// formatDocuments joins retrieved transcripts the way they are stuffed
// into the system prompt.
func formatDocuments(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if content := strings.TrimSpace(doc.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}
