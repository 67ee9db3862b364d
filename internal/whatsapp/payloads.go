package whatsapp

// Request and response shapes of the Cloud API /{phone-number-id}/messages
// endpoint. Only the fields the engine uses are modeled.

type sendPayload struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textPayload     `json:"text,omitempty"`
	Template         *templatePayload `json:"template,omitempty"`
	Image            *mediaPayload    `json:"image,omitempty"`
	Document         *mediaPayload    `json:"document,omitempty"`
	Video            *mediaPayload    `json:"video,omitempty"`
	Audio            *mediaPayload    `json:"audio,omitempty"`
}

type textPayload struct {
	Body string `json:"body"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters,omitempty"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mediaPayload struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}
