package classify

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the classification prompt for a headline about a
// candidate. The wording is Spanish to match the headlines.
func BuildPrompt(candidateName, headline string) string {
	name := strings.TrimSpace(candidateName)
	return fmt.Sprintf(`Analiza el siguiente titular de una noticia sobre %s.
Extrae el tema principal en una frase corta (máx 5 palabras).
Clasifica el sentimiento hacia %s en: Positivo, Negativo, o Neutral.
Retorna solo un JSON con claves "%s" y "%s".
Titular: %s`, name, name, FieldTopic, FieldSentiment, strings.TrimSpace(headline))
}
