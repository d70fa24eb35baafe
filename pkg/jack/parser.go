package jack

import (
	"fmt"
	"io"

	"n2t.dev/toolchain/pkg/utils"
)

// ----------------------------------------------------------------------------
// Jack Parser

// Builds the semantic AST (Class/Subroutine/Statement/Expression, all declared in jack.go)
// straight off the Tokenizer, one token of lookahead at a time, the same recursive-descent
// shape as a textbook nand2tetris CompilationEngine except it never touches an XML writer:
// that concern is handled separately (see xml.go) so the two front-ends don't have to share
// a single parse-tree abstraction that ends up serving neither well.
//
// Every production below is split the way spec.md §4.2 calls for: 'expect*' only
// type-checks the current token and fails with a line-qualified diagnostic, 'handle*'
// does that plus captures the token's value and advances past it.

// Parser consumes a Jack source file and produces its Class AST.
type Parser struct {
	reader io.Reader
	tok    *Tokenizer
}

// NewParser wraps 'r', a single compilation unit (one Jack class per file).
func NewParser(r io.Reader) Parser { return Parser{reader: r} }

// Parse tokenizes the wrapped reader and runs the grammar's 'class' production over it.
func (p *Parser) Parse() (Class, error) {
	tok, err := NewTokenizer(p.reader)
	if err != nil {
		return Class{}, fmt.Errorf("error tokenizing source: %w", err)
	}
	p.tok = tok

	return p.parseClass()
}

func (p *Parser) cur() Token { return p.tok.Current() }
func (p *Parser) adv()       { p.tok.Advance() }

func (p *Parser) expectKeyword(words ...string) error {
	t := p.cur()
	if t.Type != Keyword {
		return fmt.Errorf("line %d: expected keyword, got %q", t.Line, t.Text)
	}
	for _, w := range words {
		if t.Text == w {
			return nil
		}
	}
	return fmt.Errorf("line %d: expected one of %v, got %q", t.Line, words, t.Text)
}

func (p *Parser) expectSymbol(sym string) error {
	t := p.cur()
	if t.Type != Symbol || t.Text != sym {
		return fmt.Errorf("line %d: expected %q, got %q", t.Line, sym, t.Text)
	}
	return nil
}

func (p *Parser) isSymbol(sym string) bool { t := p.cur(); return t.Type == Symbol && t.Text == sym }
func (p *Parser) isKeyword(word string) bool {
	t := p.cur()
	return t.Type == Keyword && t.Text == word
}

func (p *Parser) handleKeyword(words ...string) (string, error) {
	if err := p.expectKeyword(words...); err != nil {
		return "", err
	}
	text := p.cur().Text
	p.adv()
	return text, nil
}

func (p *Parser) handleSymbol(sym string) error {
	if err := p.expectSymbol(sym); err != nil {
		return err
	}
	p.adv()
	return nil
}

func (p *Parser) handleIdent() (string, error) {
	t := p.cur()
	if t.Type != Identifier {
		return "", fmt.Errorf("line %d: expected identifier, got %q", t.Line, t.Text)
	}
	p.adv()
	return t.Text, nil
}

// parseDataType handles both the 3 primitive keywords and a class name used as a type.
func (p *Parser) parseDataType() (DataType, error) {
	t := p.cur()

	if t.Type == Keyword {
		switch t.Text {
		case "int":
			p.adv()
			return DataType{Main: Int}, nil
		case "char":
			p.adv()
			return DataType{Main: Char}, nil
		case "boolean":
			p.adv()
			return DataType{Main: Bool}, nil
		}
	}

	if t.Type == Identifier {
		p.adv()
		return DataType{Main: Object, Subtype: t.Text}, nil
	}

	return DataType{}, fmt.Errorf("line %d: expected a type, got %q", t.Line, t.Text)
}

// class := 'class' id '{' classVarDec* subroutineDec* '}'
func (p *Parser) parseClass() (Class, error) {
	if _, err := p.handleKeyword("class"); err != nil {
		return Class{}, err
	}
	name, err := p.handleIdent()
	if err != nil {
		return Class{}, err
	}
	if err := p.handleSymbol("{"); err != nil {
		return Class{}, err
	}

	fields := utils.NewOrderedMap[string, Variable]()
	for p.isKeyword("static") || p.isKeyword("field") {
		vars, err := p.parseClassVarDec()
		if err != nil {
			return Class{}, err
		}
		for _, v := range vars {
			fields.Set(v.Name, v)
		}
	}

	subroutines := utils.NewOrderedMap[string, Subroutine]()
	for p.isKeyword("constructor") || p.isKeyword("function") || p.isKeyword("method") {
		sub, err := p.parseSubroutineDec()
		if err != nil {
			return Class{}, err
		}
		subroutines.Set(sub.Name, sub)
	}

	if err := p.handleSymbol("}"); err != nil {
		return Class{}, err
	}

	return Class{Name: name, Fields: fields, Subroutines: subroutines}, nil
}

// classVarDec := ('static'|'field') type id (',' id)* ';'
func (p *Parser) parseClassVarDec() ([]Variable, error) {
	kindTok, err := p.handleKeyword("static", "field")
	if err != nil {
		return nil, err
	}
	kind := Field
	if kindTok == "static" {
		kind = Static
	}

	dtype, err := p.parseDataType()
	if err != nil {
		return nil, err
	}

	names, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol(";"); err != nil {
		return nil, err
	}

	vars := make([]Variable, len(names))
	for i, n := range names {
		vars[i] = Variable{Name: n, VarType: kind, DataType: dtype}
	}
	return vars, nil
}

// parseNameList := id (',' id)*, shared by classVarDec and varDec.
func (p *Parser) parseNameList() ([]string, error) {
	first, err := p.handleIdent()
	if err != nil {
		return nil, err
	}
	names := []string{first}

	for p.isSymbol(",") {
		p.adv()
		n, err := p.handleIdent()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

// subroutineDec := ('constructor'|'function'|'method') ('void'|type) id '(' parameterList ')' body
func (p *Parser) parseSubroutineDec() (Subroutine, error) {
	kindTok, err := p.handleKeyword("constructor", "function", "method")
	if err != nil {
		return Subroutine{}, err
	}
	kind := map[string]SubroutineType{
		"constructor": Constructor,
		"function":    Function,
		"method":      Method,
	}[kindTok]

	var ret DataType
	if p.isKeyword("void") {
		p.adv()
		ret = DataType{Main: Void}
	} else if ret, err = p.parseDataType(); err != nil {
		return Subroutine{}, err
	}

	name, err := p.handleIdent()
	if err != nil {
		return Subroutine{}, err
	}

	if err := p.handleSymbol("("); err != nil {
		return Subroutine{}, err
	}
	args, err := p.parseParameterList()
	if err != nil {
		return Subroutine{}, err
	}
	if err := p.handleSymbol(")"); err != nil {
		return Subroutine{}, err
	}

	statements, err := p.parseSubroutineBody()
	if err != nil {
		return Subroutine{}, err
	}

	return Subroutine{Name: name, Type: kind, Return: ret, Arguments: args, Statements: statements}, nil
}

// parameterList := ((type id) (',' type id)*)?
func (p *Parser) parseParameterList() ([]Variable, error) {
	if p.isSymbol(")") {
		return nil, nil
	}

	params := []Variable{}
	for {
		dtype, err := p.parseDataType()
		if err != nil {
			return nil, err
		}
		name, err := p.handleIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, Variable{Name: name, VarType: Parameter, DataType: dtype})

		if !p.isSymbol(",") {
			break
		}
		p.adv()
	}
	return params, nil
}

// subroutineBody := '{' varDec* statements '}'
//
// Local declarations are emitted as VarStmt entries at the front of the Statements slice
// rather than as a separate field on Subroutine, since that's the only place a Lowerer or
// TypeChecker walking Statements sees them and registers them into scope.
func (p *Parser) parseSubroutineBody() ([]Statement, error) {
	if err := p.handleSymbol("{"); err != nil {
		return nil, err
	}

	statements := []Statement{}
	for p.isKeyword("var") {
		vars, err := p.parseVarDec()
		if err != nil {
			return nil, err
		}
		statements = append(statements, VarStmt{Vars: vars})
	}

	body, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	statements = append(statements, body...)

	if err := p.handleSymbol("}"); err != nil {
		return nil, err
	}
	return statements, nil
}

// varDec := 'var' type id (',' id)* ';'
func (p *Parser) parseVarDec() ([]Variable, error) {
	if _, err := p.handleKeyword("var"); err != nil {
		return nil, err
	}
	dtype, err := p.parseDataType()
	if err != nil {
		return nil, err
	}

	names, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol(";"); err != nil {
		return nil, err
	}

	vars := make([]Variable, len(names))
	for i, n := range names {
		vars[i] = Variable{Name: n, VarType: Local, DataType: dtype}
	}
	return vars, nil
}

// statements := (letStatement | ifStatement | whileStatement | doStatement | returnStatement)*
func (p *Parser) parseStatements() ([]Statement, error) {
	statements := []Statement{}

	for p.cur().Type == Keyword {
		var (
			stmt Statement
			err  error
		)

		switch p.cur().Text {
		case "let":
			stmt, err = p.parseLetStmt()
		case "if":
			stmt, err = p.parseIfStmt()
		case "while":
			stmt, err = p.parseWhileStmt()
		case "do":
			stmt, err = p.parseDoStmt()
		case "return":
			stmt, err = p.parseReturnStmt()
		default:
			return statements, nil
		}

		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}

	return statements, nil
}

// letStatement := 'let' id ('[' expr ']')? '=' expr ';'
func (p *Parser) parseLetStmt() (Statement, error) {
	if _, err := p.handleKeyword("let"); err != nil {
		return nil, err
	}
	name, err := p.handleIdent()
	if err != nil {
		return nil, err
	}

	var lhs Expression = VarExpr{Var: name}
	if p.isSymbol("[") {
		p.adv()
		idx, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.handleSymbol("]"); err != nil {
			return nil, err
		}
		lhs = ArrayExpr{Var: name, Index: idx}
	}

	if err := p.handleSymbol("="); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol(";"); err != nil {
		return nil, err
	}

	return LetStmt{Lhs: lhs, Rhs: rhs}, nil
}

// ifStatement := 'if' '(' expr ')' '{' statements '}' ('else' '{' statements '}')?
func (p *Parser) parseIfStmt() (Statement, error) {
	if _, err := p.handleKeyword("if"); err != nil {
		return nil, err
	}
	if err := p.handleSymbol("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol(")"); err != nil {
		return nil, err
	}
	if err := p.handleSymbol("{"); err != nil {
		return nil, err
	}
	thenBlock, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol("}"); err != nil {
		return nil, err
	}

	var elseBlock []Statement
	if p.isKeyword("else") {
		p.adv()
		if err := p.handleSymbol("{"); err != nil {
			return nil, err
		}
		if elseBlock, err = p.parseStatements(); err != nil {
			return nil, err
		}
		if err := p.handleSymbol("}"); err != nil {
			return nil, err
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

// whileStatement := 'while' '(' expr ')' '{' statements '}'
func (p *Parser) parseWhileStmt() (Statement, error) {
	if _, err := p.handleKeyword("while"); err != nil {
		return nil, err
	}
	if err := p.handleSymbol("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol(")"); err != nil {
		return nil, err
	}
	if err := p.handleSymbol("{"); err != nil {
		return nil, err
	}
	block, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol("}"); err != nil {
		return nil, err
	}

	return WhileStmt{Condition: cond, Block: block}, nil
}

// doStatement := 'do' subroutineCall ';'
func (p *Parser) parseDoStmt() (Statement, error) {
	if _, err := p.handleKeyword("do"); err != nil {
		return nil, err
	}
	call, err := p.parseSubroutineCall()
	if err != nil {
		return nil, err
	}
	if err := p.handleSymbol(";"); err != nil {
		return nil, err
	}
	return DoStmt{FuncCall: call}, nil
}

// returnStatement := 'return' expr? ';'
func (p *Parser) parseReturnStmt() (Statement, error) {
	if _, err := p.handleKeyword("return"); err != nil {
		return nil, err
	}

	var expr Expression
	if !p.isSymbol(";") {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		expr = e
	}

	if err := p.handleSymbol(";"); err != nil {
		return nil, err
	}
	return ReturnStmt{Expr: expr}, nil
}

// subroutineCall := id '(' expressionList ')' | (id|className) '.' id '(' expressionList ')'
//
// Disambiguating a variable-qualified call from a class-qualified one (e.g. 'foo.bar()' where
// 'foo' may be either a local var or another class's name) is left to the Lowerer/TypeChecker,
// which have ScopeTable/Program available to resolve it; the parser only records the qualifier.
func (p *Parser) parseSubroutineCall() (FuncCallExpr, error) {
	first, err := p.handleIdent()
	if err != nil {
		return FuncCallExpr{}, err
	}

	if p.isSymbol(".") {
		p.adv()
		method, err := p.handleIdent()
		if err != nil {
			return FuncCallExpr{}, err
		}
		if err := p.handleSymbol("("); err != nil {
			return FuncCallExpr{}, err
		}
		args, err := p.parseExpressionList()
		if err != nil {
			return FuncCallExpr{}, err
		}
		if err := p.handleSymbol(")"); err != nil {
			return FuncCallExpr{}, err
		}
		return FuncCallExpr{IsExtCall: true, Var: first, FuncName: method, Arguments: args}, nil
	}

	if err := p.handleSymbol("("); err != nil {
		return FuncCallExpr{}, err
	}
	args, err := p.parseExpressionList()
	if err != nil {
		return FuncCallExpr{}, err
	}
	if err := p.handleSymbol(")"); err != nil {
		return FuncCallExpr{}, err
	}
	return FuncCallExpr{IsExtCall: false, FuncName: first, Arguments: args}, nil
}

// expressionList := (expr (',' expr)*)?
func (p *Parser) parseExpressionList() ([]Expression, error) {
	if p.isSymbol(")") {
		return nil, nil
	}

	first, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	list := []Expression{first}

	for p.isSymbol(",") {
		p.adv()
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, nil
}

var binaryOperators = map[string]ExprType{
	"+": Plus, "-": Minus, "*": Multiply, "/": Divide,
	"&": BoolAnd, "|": BoolOr, "<": LessThan, ">": GreatThan, "=": Equal,
}

// expr := term (op term)*
//
// No precedence climbing: Jack binds every operator strictly left-to-right, so parentheses
// are the only way to override evaluation order (spec.md §4.2).
func (p *Parser) parseExpression() (Expression, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for p.cur().Type == Symbol {
		op, isOp := binaryOperators[p.cur().Text]
		if !isOp {
			break
		}
		p.adv()

		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Type: op, Lhs: left, Rhs: right}
	}

	return left, nil
}

// term := intConst | strConst | keywordConst | varName | varName '[' expr ']'
//       | subroutineCall | '(' expr ')' | ('-'|'~') term
func (p *Parser) parseTerm() (Expression, error) {
	t := p.cur()

	switch {
	case t.Type == IntConst:
		p.adv()
		return LiteralExpr{Type: DataType{Main: Int}, Value: t.Text}, nil

	case t.Type == StringConst:
		p.adv()
		return LiteralExpr{Type: DataType{Main: String}, Value: t.Text}, nil

	case t.Type == Keyword && t.Text == "true":
		p.adv()
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "true"}, nil

	case t.Type == Keyword && t.Text == "false":
		p.adv()
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "false"}, nil

	case t.Type == Keyword && t.Text == "null":
		p.adv()
		return LiteralExpr{Type: DataType{Main: Null}, Value: "null"}, nil

	case t.Type == Keyword && t.Text == "this":
		p.adv()
		return VarExpr{Var: "this"}, nil

	case t.Type == Symbol && t.Text == "(":
		p.adv()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.handleSymbol(")"); err != nil {
			return nil, err
		}
		return expr, nil

	case t.Type == Symbol && (t.Text == "-" || t.Text == "~"):
		p.adv()
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		opType := Negation
		if t.Text == "~" {
			opType = BoolNot
		}
		return UnaryExpr{Type: opType, Rhs: rhs}, nil

	case t.Type == Identifier:
		name := t.Text
		p.adv()

		switch {
		case p.isSymbol("["):
			p.adv()
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.handleSymbol("]"); err != nil {
				return nil, err
			}
			return ArrayExpr{Var: name, Index: idx}, nil

		case p.isSymbol("("):
			p.adv()
			args, err := p.parseExpressionList()
			if err != nil {
				return nil, err
			}
			if err := p.handleSymbol(")"); err != nil {
				return nil, err
			}
			return FuncCallExpr{IsExtCall: false, FuncName: name, Arguments: args}, nil

		case p.isSymbol("."):
			p.adv()
			method, err := p.handleIdent()
			if err != nil {
				return nil, err
			}
			if err := p.handleSymbol("("); err != nil {
				return nil, err
			}
			args, err := p.parseExpressionList()
			if err != nil {
				return nil, err
			}
			if err := p.handleSymbol(")"); err != nil {
				return nil, err
			}
			return FuncCallExpr{IsExtCall: true, Var: name, FuncName: method, Arguments: args}, nil

		default:
			return VarExpr{Var: name}, nil
		}

	default:
		return nil, fmt.Errorf("line %d: unexpected token %q in expression", t.Line, t.Text)
	}
}
