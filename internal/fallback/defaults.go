// ABOUTME: Built-in fallback tiers and generic replies
// ABOUTME: Spanish and English keywords, used when configuration leaves them empty

package fallback

// DefaultTiers returns the built-in keyword tiers in evaluation order.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Category:   "greeting",
			Keywords:   []string{"hola", "buenos dias", "buenos días", "buenas tardes", "buenas noches", "hello", "hey", "good morning"},
			Reply:      "¡Hola! Gracias por escribirnos. ¿En qué podemos ayudarte?",
			Confidence: 0.7,
		},
		{
			Category:   "farewell",
			Keywords:   []string{"adios", "adiós", "hasta luego", "gracias", "bye", "goodbye", "thanks", "thank you"},
			Reply:      "¡Gracias a ti! Aquí estaremos cuando nos necesites.",
			Confidence: 0.7,
		},
		{
			Category:   "schedule",
			Keywords:   []string{"horario", "hora", "abren", "cierran", "schedule", "hours", "open", "close at"},
			Reply:      "Nuestro horario de atención es de lunes a viernes de 9:00 a 18:00.",
			Confidence: 0.6,
		},
		{
			Category:   "pricing",
			Keywords:   []string{"precio", "costo", "cuanto cuesta", "cuánto cuesta", "tarifa", "price", "cost", "how much"},
			Reply:      "Un asesor se pondrá en contacto contigo para darte información de precios.",
			Confidence: 0.6,
		},
	}
}

// DefaultGenericReplies returns the built-in generic replies.
func DefaultGenericReplies() []string {
	return []string{
		"Gracias por tu mensaje. Un asesor te responderá pronto.",
		"Recibimos tu mensaje, en breve te atendemos.",
		"No estoy seguro de haber entendido. ¿Podrías darnos más detalles?",
		"Thanks for your message. Someone from our team will reply soon.",
	}
}

// DefaultApology is the reply of last resort.
const DefaultApology = "Lo sentimos, ocurrió un problema. Por favor intenta de nuevo más tarde."
