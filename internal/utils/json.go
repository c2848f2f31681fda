package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// WriteJSON é a única porta de saída JSON dos handlers; o status vai
// no cabeçalho antes de qualquer byte do corpo.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeStrict decodifica um corpo JSON rejeitando chaves
// desconhecidas. Como os registros carregam campos dinâmicos, um nome
// de campo errado num PUT viraria silenciosamente uma coluna nova;
// melhor recusar na borda.
func DecodeStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	// exatamente um objeto: sobra depois do fechamento é lixo
	if dec.More() {
		return errors.New("conteúdo JSON inesperado após o objeto")
	}
	return nil
}

// BadRequest padroniza o 400 com {"error": msg}.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// FormatUnknownFieldError traduz o erro do decoder para a resposta.
// As mensagens do stdlib ("json: unknown field ...") já citam o campo
// ofensor; hoje só repassamos.
func FormatUnknownFieldError(err error) string {
	return fmt.Sprintf("%v", err)
}
