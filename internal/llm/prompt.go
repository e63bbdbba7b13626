package llm

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

var (
	ErrInvalidRequest  = errors.New("invalid generation request")
	ErrUnknownTemplate = errors.New("unknown document template")
)

// Document templates understood by the generator.
const (
	TemplateProgressNote = "evolucao"
	TemplateReport       = "relatorio"
	TemplateIntake       = "anamnese"
	TemplateReferral     = "encaminhamento"
)

const systemPrompt = "Você é um assistente de documentação clínica para psicólogos no Brasil. " +
	"Siga a Resolução CFP nº 06/2019, escreva em português formal, não invente fatos " +
	"que não estejam no material fornecido e não emita diagnósticos conclusivos."

var templates = map[string]*template.Template{
	TemplateProgressNote: template.Must(template.New(TemplateProgressNote).Parse(
		`Redija a evolução da sessão do paciente {{.PatientName}} a partir da {{.SourceLabel}} abaixo.
Estruture em: Demanda trabalhada, Intervenções realizadas, Observações clínicas e Encaminhamentos.
Assine como {{.PractitionerName}}, CRP {{.LicenseNumber}}.

{{.SourceLabel}}:
"""
{{.Source}}
"""`)),
	TemplateReport: template.Must(template.New(TemplateReport).Parse(
		`Elabore um relatório psicológico sobre o paciente {{.PatientName}} com base na {{.SourceLabel}} abaixo.
Inclua: Identificação, Descrição da demanda, Procedimento, Análise e Conclusão.
Profissional responsável: {{.PractitionerName}}, CRP {{.LicenseNumber}}.

{{.SourceLabel}}:
"""
{{.Source}}
"""`)),
	TemplateIntake: template.Must(template.New(TemplateIntake).Parse(
		`Resuma a anamnese do paciente {{.PatientName}} a partir das {{.SourceLabel}} abaixo.
Organize em: Queixa principal, Histórico pessoal, Histórico familiar, Saúde e medicações, Pontos de atenção.
Profissional responsável: {{.PractitionerName}}, CRP {{.LicenseNumber}}.

{{.SourceLabel}}:
"""
{{.Source}}
"""`)),
	TemplateReferral: template.Must(template.New(TemplateReferral).Parse(
		`Redija uma carta de encaminhamento do paciente {{.PatientName}} considerando a {{.SourceLabel}} abaixo.
Seja objetivo e preserve o sigilo, citando apenas o necessário para o encaminhamento.
Assine como {{.PractitionerName}}, CRP {{.LicenseNumber}}.

{{.SourceLabel}}:
"""
{{.Source}}
"""`)),
}

// Source kinds.
const (
	SourceTranscript = "transcrição"
	SourceAnswers    = "respostas do formulário"
)

type DocumentRequest struct {
	Template         string
	PatientName      string
	PractitionerName string
	LicenseNumber    string
	Source           string
	SourceLabel      string
}

// Templates lists the available template names.
func Templates() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *DocumentRequest) Validate() error {
	if _, ok := templates[r.Template]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, r.Template)
	}
	missing := []string{}
	for name, v := range map[string]string{
		"patientName":      r.PatientName,
		"psychologistName": r.PractitionerName,
		"crp":              r.LicenseNumber,
		"source":           r.Source,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// BuildPrompt renders the user prompt for r.
func BuildPrompt(r DocumentRequest) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	if r.SourceLabel == "" {
		r.SourceLabel = SourceTranscript
	}

	var buf bytes.Buffer
	if err := templates[r.Template].Execute(&buf, r); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
