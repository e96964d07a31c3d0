package escola

import (
	"sort"
	"strings"
)

// Provincias returns the provinces among rows, ordered by name.
func Provincias(rows []Localidade) []Localidade {
	return children(rows, TipoProvincia, 0)
}

// Municipios returns the municipalities of a province.
func Municipios(rows []Localidade, provincia int) []Localidade {
	if provincia == 0 {
		return nil
	}
	return children(rows, TipoMunicipio, provincia)
}

// Comunas returns the communes of a municipality.
func Comunas(rows []Localidade, municipio int) []Localidade {
	if municipio == 0 {
		return nil
	}
	return children(rows, TipoComuna, municipio)
}

func children(rows []Localidade, tipo string, parent int) []Localidade {
	out := make([]Localidade, 0)
	for _, l := range rows {
		if l.Tipo == tipo && (tipo == TipoProvincia || l.CodigoPai == parent) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Designacao) < strings.ToLower(out[j].Designacao)
	})
	return out
}

// LocalidadeCascade is the province, municipality and commune selection of
// a form. Changing a level clears the levels below it.
type LocalidadeCascade struct {
	Provincia int
	Municipio int
	Comuna    int
}

// SetProvincia selects a province and clears municipality and commune.
func (c *LocalidadeCascade) SetProvincia(id int) {
	if c.Provincia == id {
		return
	}
	c.Provincia = id
	c.Municipio = 0
	c.Comuna = 0
}

// SetMunicipio selects a municipality and clears the commune.
func (c *LocalidadeCascade) SetMunicipio(id int) {
	if c.Municipio == id {
		return
	}
	c.Municipio = id
	c.Comuna = 0
}

// SetComuna selects a commune.
func (c *LocalidadeCascade) SetComuna(id int) {
	c.Comuna = id
}

// Options returns the choices available at each level for the current
// selection.
func (c LocalidadeCascade) Options(rows []Localidade) (provincias, municipios, comunas []Localidade) {
	return Provincias(rows), Municipios(rows, c.Provincia), Comunas(rows, c.Municipio)
}

// Valid reports whether the selection is consistent with rows.
func (c LocalidadeCascade) Valid(rows []Localidade) bool {
	byID := make(map[int]Localidade, len(rows))
	for _, l := range rows {
		byID[l.Codigo] = l
	}
	if c.Municipio != 0 && byID[c.Municipio].CodigoPai != c.Provincia {
		return false
	}
	if c.Comuna != 0 && byID[c.Comuna].CodigoPai != c.Municipio {
		return false
	}
	return true
}

// TurmaCascade is the academic year and turma selection of a form.
type TurmaCascade struct {
	AnoLectivo int
	Classe     int
	Turma      int
}

// SetAnoLectivo selects a year and clears class and turma.
func (c *TurmaCascade) SetAnoLectivo(id int) {
	if c.AnoLectivo == id {
		return
	}
	c.AnoLectivo = id
	c.Classe = 0
	c.Turma = 0
}

// SetClasse selects a grade and clears the turma.
func (c *TurmaCascade) SetClasse(id int) {
	if c.Classe == id {
		return
	}
	c.Classe = id
	c.Turma = 0
}

// Turmas returns the turmas matching the selected year and grade. Without a
// year nothing is offered; without a grade every turma of the year is.
func (c TurmaCascade) Turmas(rows []Turma) []Turma {
	if c.AnoLectivo == 0 {
		return nil
	}
	out := make([]Turma, 0)
	for _, t := range rows {
		if t.CodigoAnoLectivo != c.AnoLectivo {
			continue
		}
		if c.Classe != 0 && t.CodigoClasse != c.Classe {
			continue
		}
		out = append(out, t)
	}
	return out
}
