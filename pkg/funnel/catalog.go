package funnel

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topic is one entry of the root menu.
type Topic struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Catalog holds the menu structure and every canned reply the funnel can
// produce. It can be replaced from a YAML file without touching code.
type Catalog struct {
	Greetings  []string `yaml:"greetings"`
	MenuHeader string   `yaml:"menuHeader"`
	MenuBody   string   `yaml:"menuBody"`
	MenuButton string   `yaml:"menuButton"`
	Topics     []Topic  `yaml:"topics"`

	EscalateID      string `yaml:"escalateId"`
	EscalateConfirm string `yaml:"escalateConfirm"`
	OperatorNotice  string `yaml:"operatorNotice"`

	InvalidOption      string `yaml:"invalidOption"`
	EmptyMessage       string `yaml:"emptyMessage"`
	CompletionFallback string `yaml:"completionFallback"`
	RelayAck           string `yaml:"relayAck"`
	RelayApology       string `yaml:"relayApology"`
	EscalationExpired  string `yaml:"escalationExpired"`
}

// DefaultCatalog returns the built-in menu.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Greetings:  []string{"hola", "buenas", "buenos dias", "buenos días", "buenas tardes", "buenas noches", "menu", "menú", "inicio", "hi", "hello"},
		MenuHeader: "Vicky Bot",
		MenuBody: "Menú principal:\n" +
			"Escribe el número de la opción (1-8) o escribe tu consulta libremente.",
		MenuButton: "Ver opciones",
		Topics: []Topic{
			{ID: "1", Title: "Pensiones IMSS", Body: "Asesoría en pensiones IMSS:\n- Podemos ayudarte a revisar requisitos, montos y trámites.\nPor favor comparte tu duda específica o escribe 'menu' para volver."},
			{ID: "2", Title: "Seguros de auto", Body: "Seguros de auto:\n- Ofrecemos planes con cobertura amplia y asistencia en carretera.\n¿Quieres cotizar un vehículo? Indica marca, modelo y año."},
			{ID: "3", Title: "Vida y salud", Body: "Seguros de vida y salud:\n- Contamos con opciones para cobertura individual y familiar.\nDime si buscas protección de vida, gastos médicos o ambos."},
			{ID: "4", Title: "Tarjetas VRIM", Body: "Tarjetas médicas VRIM:\n- Información sobre beneficios, afiliación y uso.\nEscribe tu pregunta específica para que te asesoremos."},
			{ID: "5", Title: "Préstamos IMSS", Body: "Préstamos a pensionados IMSS:\n- Te explicamos requisitos, tasas y tiempos de pago.\nComparte tu pensión mensual (aprox.) para darte una estimación."},
			{ID: "6", Title: "Financiamiento", Body: "Financiamiento empresarial:\n- Opciones para capital de trabajo, inversión y expansión.\nIndica el tamaño de tu empresa y el monto aproximado requerido."},
			{ID: "7", Title: "Nómina empresarial", Body: "Nómina empresarial:\n- Servicios de administración de nómina, cumplimiento y pagos.\n¿Quieres cotización o detalles del servicio?"},
		},
		EscalateID: "8",
		EscalateConfirm: "He notificado internamente a Christian. Un asesor se pondrá en contacto contigo pronto.\n" +
			"Si quieres, puedes dejar un mensaje adicional y lo reenviaré.",
		OperatorNotice:     "Contacto solicitado con el asesor",
		InvalidOption:      "⚠️ Opción no válida. Por favor selecciona un número del 1 al 8 o escribe *menu* para ver las opciones.",
		EmptyMessage:       "⚠️ No recibí ningún mensaje. Intenta de nuevo.",
		CompletionFallback: "⚠️ En este momento no puedo conectarme con GPT, por favor intenta más tarde.",
		RelayAck:           "📎 Recibí tu archivo, lo reenviaré a un asesor.",
		RelayApology:       "⚠️ No pude reenviar tu archivo al asesor. Por favor intenta de nuevo más tarde.",
		EscalationExpired:  "El asesor atendió tu solicitud. Volvemos al menú principal, escribe *menu* para ver las opciones.",
	}
}

// LoadCatalog reads a catalog from a YAML file, filling gaps with the
// defaults so a partial file stays usable.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cat, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("failed to parse menu catalog: %w", err)
	}
	if cat.EscalateID == "" {
		return nil, fmt.Errorf("menu catalog: escalateId must not be empty")
	}
	return cat, nil
}

// Topic returns the topic for a selection id.
func (c *Catalog) Topic(id string) (Topic, bool) {
	for _, t := range c.Topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

// IsGreeting reports whether text matches a greeting pattern.
func (c *Catalog) IsGreeting(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, g := range c.Greetings {
		if text == g {
			return true
		}
	}
	return false
}

// IsMenuKeyword reports whether text is an explicit menu request, which
// resets the funnel from any stage.
func (c *Catalog) IsMenuKeyword(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	return text == "menu" || text == "menú"
}

// MenuText renders the menu as plain text for channels without list support.
func (c *Catalog) MenuText() string {
	var sb strings.Builder
	sb.WriteString(c.MenuBody)
	sb.WriteString("\n")
	for _, t := range c.Topics {
		sb.WriteString(fmt.Sprintf("%s: %s\n", t.ID, t.Title))
	}
	sb.WriteString(fmt.Sprintf("%s: Contactar con un asesor\n", c.EscalateID))
	return sb.String()
}
