package escola

// AlunoInput is the create and update payload of a student.
type AlunoInput struct {
	Nome               string `json:"nome" validate:"required,min=3,max=120"`
	NumeroBI           string `json:"numeroBi,omitempty" validate:"omitempty,alphanum,len=14"`
	DataNascimento     string `json:"dataNascimento,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Sexo               string `json:"sexo,omitempty" validate:"omitempty,oneof=M F"`
	Telefone           string `json:"telefone,omitempty" validate:"omitempty,numeric,min=9,max=15"`
	Email              string `json:"email,omitempty" validate:"omitempty,email"`
	NomePai            string `json:"nomePai,omitempty" validate:"omitempty,max=120"`
	NomeMae            string `json:"nomeMae,omitempty" validate:"omitempty,max=120"`
	CodigoTurma        int    `json:"codigoTurma,omitempty" validate:"omitempty,gt=0"`
	CodigoComuna       int    `json:"codigoComuna,omitempty" validate:"omitempty,gt=0"`
	CodigoProveniencia int    `json:"codigoProveniencia,omitempty" validate:"omitempty,gt=0"`
}

// TurmaInput is the create and update payload of a class section.
type TurmaInput struct {
	Designacao       string `json:"designacao" validate:"required,max=60"`
	CodigoClasse     int    `json:"codigoClasse" validate:"required,gt=0"`
	CodigoCurso      int    `json:"codigoCurso,omitempty" validate:"omitempty,gt=0"`
	CodigoAnoLectivo int    `json:"codigoAnoLectivo" validate:"required,gt=0"`
	Sala             string `json:"sala,omitempty" validate:"omitempty,max=20"`
	Periodo          string `json:"periodo,omitempty" validate:"omitempty,oneof=manha tarde noite"`
	Capacidade       int    `json:"capacidade,omitempty" validate:"omitempty,gt=0,lte=200"`
}

// TransferenciaInput is the payload of a transfer request.
type TransferenciaInput struct {
	CodigoAluno   int    `json:"codigoAluno" validate:"required,gt=0"`
	Tipo          string `json:"tipo" validate:"required,oneof=entrada saida"`
	EscolaDestino string `json:"escolaDestino,omitempty" validate:"required_if=Tipo saida,max=120"`
	Motivo        string `json:"motivo,omitempty" validate:"omitempty,max=500"`
	Data          string `json:"dataTransferencia,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// AnoLectivoInput is the payload of an academic year.
type AnoLectivoInput struct {
	Designacao string `json:"designacao" validate:"required,max=20"`
	DataInicio string `json:"dataInicio" validate:"required,datetime=2006-01-02"`
	DataFim    string `json:"dataFim" validate:"required,datetime=2006-01-02"`
}

// ProvenienciaInput is the payload of an origin school.
type ProvenienciaInput struct {
	Designacao   string `json:"designacao" validate:"required,max=120"`
	Localizacao  string `json:"localizacao,omitempty" validate:"omitempty,max=200"`
	Contacto     string `json:"contacto,omitempty" validate:"omitempty,max=60"`
	CodigoComuna int    `json:"codigoComuna,omitempty" validate:"omitempty,gt=0"`
}

// ClasseInput is the payload of a grade level.
type ClasseInput struct {
	Designacao string `json:"designacao" validate:"required,max=40"`
	Nivel      string `json:"nivel,omitempty" validate:"omitempty,max=40"`
}

// CursoInput is the payload of a course.
type CursoInput struct {
	Designacao string `json:"designacao" validate:"required,max=80"`
	Descricao  string `json:"descricao,omitempty" validate:"omitempty,max=500"`
}

// LocalidadeInput is the payload of a province, municipality or commune.
type LocalidadeInput struct {
	Designacao string `json:"designacao" validate:"required,max=80"`
	Tipo       string `json:"tipo" validate:"required,oneof=provincia municipio comuna"`
	CodigoPai  int    `json:"codigoPai,omitempty" validate:"required_unless=Tipo provincia"`
}

// StatusInput is the payload of a status-only transition.
type StatusInput struct {
	Status string `json:"status" validate:"required"`
	Motivo string `json:"motivo,omitempty"`
}
