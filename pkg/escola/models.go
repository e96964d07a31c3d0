// Package escola wires the school backend's entities onto the generic
// resource layer: models, input payloads, REST paths and the invalidation
// policy that keeps related lists coherent.
package escola

// Aluno is an enrolled student.
type Aluno struct {
	Codigo         int     `json:"codigo"`
	Nome           string  `json:"nome"`
	NumeroBI       string  `json:"numeroBi,omitempty"`
	DataNascimento string  `json:"dataNascimento,omitempty"`
	Sexo           string  `json:"sexo,omitempty"`
	Telefone       string  `json:"telefone,omitempty"`
	Email          string  `json:"email,omitempty"`
	NomePai        string  `json:"nomePai,omitempty"`
	NomeMae        string  `json:"nomeMae,omitempty"`
	CodigoTurma    int     `json:"codigoTurma,omitempty"`
	Turma          string  `json:"turma,omitempty"`
	CodigoComuna   int     `json:"codigoComuna,omitempty"`
	CodigoOrigem   int     `json:"codigoProveniencia,omitempty"`
	Status         string  `json:"status,omitempty"`
	SaldoEmDivida  float64 `json:"saldoEmDivida,omitempty"`
}

// Turma is a class section within an academic year.
type Turma struct {
	Codigo           int    `json:"codigo"`
	Designacao       string `json:"designacao"`
	CodigoClasse     int    `json:"codigoClasse,omitempty"`
	Classe           string `json:"classe,omitempty"`
	CodigoCurso      int    `json:"codigoCurso,omitempty"`
	Curso            string `json:"curso,omitempty"`
	CodigoAnoLectivo int    `json:"codigoAnoLectivo,omitempty"`
	AnoLectivo       string `json:"anoLectivo,omitempty"`
	Sala             string `json:"sala,omitempty"`
	Periodo          string `json:"periodo,omitempty"`
	Capacidade       int    `json:"capacidade,omitempty"`
	TotalAlunos      int    `json:"totalAlunos,omitempty"`
	Status           string `json:"status,omitempty"`
}

// Transferencia is a student's transfer in or out of the school.
type Transferencia struct {
	Codigo        int    `json:"codigo"`
	CodigoAluno   int    `json:"codigoAluno"`
	Aluno         string `json:"aluno,omitempty"`
	Tipo          string `json:"tipo,omitempty"`
	EscolaDestino string `json:"escolaDestino,omitempty"`
	Motivo        string `json:"motivo,omitempty"`
	Data          string `json:"dataTransferencia,omitempty"`
	Status        string `json:"status,omitempty"`
}

// AnoLectivo is an academic year.
type AnoLectivo struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
	DataInicio string `json:"dataInicio,omitempty"`
	DataFim    string `json:"dataFim,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Proveniencia is an origin school.
type Proveniencia struct {
	Codigo       int    `json:"codigo"`
	Designacao   string `json:"designacao"`
	Localizacao  string `json:"localizacao,omitempty"`
	Contacto     string `json:"contacto,omitempty"`
	CodigoComuna int    `json:"codigoComuna,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Classe is a grade level.
type Classe struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
	Nivel      string `json:"nivel,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Curso is a course of study.
type Curso struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
	Descricao  string `json:"descricao,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Localidade levels.
const (
	TipoProvincia = "provincia"
	TipoMunicipio = "municipio"
	TipoComuna    = "comuna"
)

// Localidade is a province, municipality or commune. CodigoPai links a
// municipality to its province and a commune to its municipality.
type Localidade struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
	Tipo       string `json:"tipo"`
	CodigoPai  int    `json:"codigoPai,omitempty"`
}
