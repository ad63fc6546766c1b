package persona

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"personabench/internal/mode"
)

// Locale describes one country's canonical answering language.
type Locale struct {
	Language string // English name, fills the {language} placeholder
	Code     string // ISO 639-1, used by the translation gateway
	Pronoun  string // canonical second-person opener
	// Keys localize the user-message triad for persona generation.
	QuestionKey    string
	CountryKey     string
	DescriptionKey string
}

var english = Locale{
	Language: "English", Code: "en", Pronoun: "You",
	QuestionKey: "Question", CountryKey: "Country", DescriptionKey: "Persona description",
}

// locales maps benchmark countries to their canonical language. Countries
// not listed fall back to English.
var locales = map[string]Locale{
	"China": {Language: "Chinese", Code: "zh", Pronoun: "你",
		QuestionKey: "问题", CountryKey: "国家", DescriptionKey: "角色描述"},
	"Japan": {Language: "Japanese", Code: "ja", Pronoun: "あなた",
		QuestionKey: "質問", CountryKey: "国", DescriptionKey: "ペルソナの説明"},
	"South Korea": {Language: "Korean", Code: "ko", Pronoun: "당신",
		QuestionKey: "질문", CountryKey: "국가", DescriptionKey: "페르소나 설명"},
	"Spain": {Language: "Spanish", Code: "es", Pronoun: "Tú",
		QuestionKey: "Pregunta", CountryKey: "País", DescriptionKey: "Descripción de la persona"},
	"Mexico": {Language: "Spanish", Code: "es", Pronoun: "Tú",
		QuestionKey: "Pregunta", CountryKey: "País", DescriptionKey: "Descripción de la persona"},
	"France": {Language: "French", Code: "fr", Pronoun: "Vous",
		QuestionKey: "Question", CountryKey: "Pays", DescriptionKey: "Description du persona"},
	"Germany": {Language: "German", Code: "de", Pronoun: "Du",
		QuestionKey: "Frage", CountryKey: "Land", DescriptionKey: "Persona-Beschreibung"},
	"Italy": {Language: "Italian", Code: "it", Pronoun: "Tu",
		QuestionKey: "Domanda", CountryKey: "Paese", DescriptionKey: "Descrizione della persona"},
	"Russia": {Language: "Russian", Code: "ru", Pronoun: "Вы",
		QuestionKey: "Вопрос", CountryKey: "Страна", DescriptionKey: "Описание персоны"},
	"Brazil": {Language: "Portuguese", Code: "pt", Pronoun: "Você",
		QuestionKey: "Pergunta", CountryKey: "País", DescriptionKey: "Descrição da persona"},
	"Indonesia": {Language: "Indonesian", Code: "id", Pronoun: "Anda",
		QuestionKey: "Pertanyaan", CountryKey: "Negara", DescriptionKey: "Deskripsi persona"},
	"Vietnam": {Language: "Vietnamese", Code: "vi", Pronoun: "Bạn",
		QuestionKey: "Câu hỏi", CountryKey: "Quốc gia", DescriptionKey: "Mô tả nhân vật"},
	"Iran": {Language: "Persian", Code: "fa", Pronoun: "شما",
		QuestionKey: "سؤال", CountryKey: "کشور", DescriptionKey: "توضیح شخصیت"},
	"Saudi Arabia": {Language: "Arabic", Code: "ar", Pronoun: "أنت",
		QuestionKey: "سؤال", CountryKey: "بلد", DescriptionKey: "وصف الشخصية"},
	"India": {Language: "Hindi", Code: "hi", Pronoun: "आप",
		QuestionKey: "प्रश्न", CountryKey: "देश", DescriptionKey: "व्यक्तित्व विवरण"},
	"Turkey": {Language: "Turkish", Code: "tr", Pronoun: "Sen",
		QuestionKey: "Soru", CountryKey: "Ülke", DescriptionKey: "Persona açıklaması"},
	"Greece": {Language: "Greek", Code: "el", Pronoun: "Εσύ",
		QuestionKey: "Ερώτηση", CountryKey: "Χώρα", DescriptionKey: "Περιγραφή περσόνας"},
	"United States":  english,
	"United Kingdom": english,
}

// LocaleFor returns the country's locale, falling back to English.
func LocaleFor(country string) Locale {
	if l, ok := locales[strings.TrimSpace(country)]; ok {
		return l
	}
	return english
}

// SurfaceLocale is the locale the persona must surface in under the
// given policy: English for english/l2e, the country's for native/e2l.
func SurfaceLocale(m mode.Mode, country string) Locale {
	if m.SurfacesEnglish() {
		return english
	}
	return LocaleFor(country)
}

// generationLocale is the locale personas are generated in before any
// translation bridge.
func generationLocale(m mode.Mode, country string) Locale {
	if m.GeneratesEnglish() {
		return english
	}
	return LocaleFor(country)
}

// PronounPrefixes lists openers accepted by the bare-persona fallback in
// the extractor.
func PronounPrefixes(l Locale) []string {
	if l.Pronoun == "You" {
		return []string{"You"}
	}
	return []string{l.Pronoun, "You"}
}

// languageOK checks the generated text against the policy: English
// output for English-generation policies, non-English otherwise.
func languageOK(text string, wantEnglish bool) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	info := whatlanggo.Detect(t)
	isEnglish := info.Lang == whatlanggo.Eng
	if wantEnglish {
		return isEnglish
	}
	return !isEnglish
}
